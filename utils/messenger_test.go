package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"wablast/apperrors"
	"wablast/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWahaClientSendText(t *testing.T) {
	var gotPath, gotAPIKey string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-Api-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "true_628@c.us_ABCD"})
	}))
	defer srv.Close()

	client := NewWahaClient(srv.URL, "secret-key", 100)
	defer client.Close()

	id, err := client.SendText(context.Background(), "primary", "6281234567890", "Halo!")
	require.NoError(t, err)
	assert.Equal(t, "true_628@c.us_ABCD", id)

	assert.Equal(t, "/api/sendText", gotPath)
	assert.Equal(t, "secret-key", gotAPIKey)
	assert.Equal(t, "primary", gotBody["session"])
	assert.Equal(t, "6281234567890", gotBody["chatId"])
	assert.Equal(t, "Halo!", gotBody["text"])
}

func TestWahaClientSendTextGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not connected", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewWahaClient(srv.URL, "", 100)
	defer client.Close()

	_, err := client.SendText(context.Background(), "primary", "628", "Halo")
	require.Error(t, err)
	assert.True(t, apperrors.IsTransport(err))
	assert.Contains(t, err.Error(), "422")
}

func TestWahaClientSessionStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions/primary", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"name": "primary", "status": "WORKING"})
	}))
	defer srv.Close()

	client := NewWahaClient(srv.URL, "", 100)
	defer client.Close()

	status, err := client.SessionStatus(context.Background(), "primary")
	require.NoError(t, err)
	assert.Equal(t, models.SessionWorking, status)
	assert.True(t, SessionReady(status))
}

func TestSessionReady(t *testing.T) {
	assert.True(t, SessionReady(models.SessionWorking))
	assert.False(t, SessionReady(models.SessionScanQR))
	assert.False(t, SessionReady(models.SessionStopped))
	assert.False(t, SessionReady(""))
}
