package apperrors

import (
	"errors"
	"fmt"
)

// InvalidTransitionError is returned when a lifecycle call is not permitted
// from the campaign's current status.
type InvalidTransitionError struct {
	CampaignID uint
	From       string
	To         string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("campaign %d: invalid transition from %q to %q", e.CampaignID, e.From, e.To)
}

func NewInvalidTransition(id uint, from, to string) error {
	return &InvalidTransitionError{CampaignID: id, From: from, To: to}
}

func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}

// ValidationError marks input that can never succeed: an empty row source,
// missing message samples, or a missing required row field. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func NewValidation(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// QuotaExceededError pauses the owning campaign; the message is surfaced to
// the user together with an upgrade hint.
type QuotaExceededError struct {
	UserID    uint
	Remaining int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("message quota exhausted for user %d (%d remaining) - upgrade your plan to continue sending", e.UserID, e.Remaining)
}

func IsQuotaExceeded(err error) bool {
	var e *QuotaExceededError
	return errors.As(err, &e)
}

// TransportError wraps a gateway failure: a failed send or an unhealthy
// session. Recorded per row; it does not abort the campaign by itself.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func IsTransport(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}
