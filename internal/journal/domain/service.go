package domain

import (
	"context"
	"errors"
)

// BeginResult reports what the journal knows about an event at claim time.
type BeginResult struct {
	// IsNew is true when this caller owns processing for the event, either
	// because the event was never seen or because a stale claim was reclaimed.
	IsNew bool
	// AlreadyCompleted is true when the event finished processing earlier.
	// The caller must skip side effects and acknowledge the delivery.
	AlreadyCompleted bool
}

// Service is the idempotency journal. Every inbound event passes through
// Begin before any side effect runs, and through exactly one of Complete
// or Fail afterwards.
type Service interface {
	Begin(ctx context.Context, eventID, eventType string) (BeginResult, error)
	Complete(ctx context.Context, eventID string) error
	Fail(ctx context.Context, eventID, reason string) error
}

var (
	// ErrEventInFlight means another worker holds a fresh claim on the event.
	ErrEventInFlight = errors.New("event_in_flight")
	// ErrUnknownEvent means Complete or Fail was called without a Begin.
	ErrUnknownEvent = errors.New("unknown_event")
)
