package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wablast/apperrors"
	"wablast/models"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

// Messenger is the outbound transport for one campaign. Each executor gets
// its own instance so connection state is never shared across campaigns.
type Messenger interface {
	SendText(ctx context.Context, session, chatID, text string) (string, error)
	SessionStatus(ctx context.Context, session string) (string, error)
	Close()
}

// MessengerFactory builds an isolated Messenger per executor run.
type MessengerFactory func() Messenger

// WahaClient talks to a WAHA-style WhatsApp HTTP gateway.
type WahaClient struct {
	baseURL string
	apiKey  string
	client  *fasthttp.Client
	limiter *rate.Limiter
}

// NewWahaClient creates a gateway client. ratePerSec caps outbound sends
// across the client regardless of the per-campaign delay setting.
func NewWahaClient(baseURL, apiKey string, ratePerSec int) *WahaClient {
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	return &WahaClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &fasthttp.Client{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

type sendTextRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
}

type sendTextResponse struct {
	ID string `json:"id"`
}

type sessionStatusResponse struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// SendText dispatches one text message and returns the transport message id.
func (w *WahaClient) SendText(ctx context.Context, session, chatID, text string) (string, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return "", &apperrors.TransportError{Op: "sendText", Err: err}
	}

	body, err := json.Marshal(sendTextRequest{Session: session, ChatID: chatID, Text: text})
	if err != nil {
		return "", &apperrors.TransportError{Op: "sendText", Err: err}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(w.baseURL + "/api/sendText")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if w.apiKey != "" {
		req.Header.Set("X-Api-Key", w.apiKey)
	}
	req.SetBody(body)

	if err := w.client.Do(req, resp); err != nil {
		w.reportFailure(session, chatID, err)
		return "", &apperrors.TransportError{Op: "sendText", Err: err}
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		err := fmt.Errorf("gateway returned %d: %s", resp.StatusCode(), resp.Body())
		w.reportFailure(session, chatID, err)
		return "", &apperrors.TransportError{Op: "sendText", Err: err}
	}

	var out sendTextResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", &apperrors.TransportError{Op: "sendText", Err: err}
	}
	return out.ID, nil
}

// SessionStatus asks the gateway for the current state of a session.
func (w *WahaClient) SessionStatus(ctx context.Context, session string) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(w.baseURL + "/api/sessions/" + session)
	req.Header.SetMethod(fasthttp.MethodGet)
	if w.apiKey != "" {
		req.Header.Set("X-Api-Key", w.apiKey)
	}

	if err := w.client.Do(req, resp); err != nil {
		return "", &apperrors.TransportError{Op: "sessionStatus", Err: err}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", &apperrors.TransportError{
			Op:  "sessionStatus",
			Err: fmt.Errorf("gateway returned %d: %s", resp.StatusCode(), resp.Body()),
		}
	}

	var out sessionStatusResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", &apperrors.TransportError{Op: "sessionStatus", Err: err}
	}
	return out.Status, nil
}

// Close releases idle gateway connections.
func (w *WahaClient) Close() {
	w.client.CloseIdleConnections()
}

// SessionReady reports whether a gateway status allows sending.
func SessionReady(status string) bool {
	return status == models.SessionWorking
}

func (w *WahaClient) reportFailure(session, chatID string, err error) {
	log := logrus.WithFields(logrus.Fields{
		"session": session,
		"chat_id": chatID,
	})
	log.WithError(err).Error("gateway send failed")

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "messenger")
		scope.SetExtra("session", session)
		sentry.CaptureException(err)
	})
}
