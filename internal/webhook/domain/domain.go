// Package domain defines the webhook dispatcher contract: every inbound
// processor event is verified, journaled, then dispatched exactly once.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ProcessingResult tells the transport layer how the event ended up.
type ProcessingResult string

const (
	// ResultProcessed means side effects were applied and journaled.
	ResultProcessed ProcessingResult = "processed"
	// ResultDuplicate means the event completed earlier; acknowledged
	// with no new side effects.
	ResultDuplicate ProcessingResult = "duplicate"
	// ResultIgnored means the event type is not one we handle.
	ResultIgnored ProcessingResult = "ignored"
	// ResultFailed means processing failed permanently; the event is
	// acknowledged and parked for the operator queue.
	ResultFailed ProcessingResult = "failed"
)

// Service ingests one raw webhook delivery.
type Service interface {
	Handle(ctx context.Context, payload []byte, signatureHeader string) (ProcessingResult, error)
}

var (
	// ErrInvalidSignature rejects the delivery before anything is journaled.
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrMalformedEvent   = errors.New("malformed_event")
	// ErrMissingTenantRef means the event could not be correlated to a
	// tenant; permanent failure, parked for reconciliation.
	ErrMissingTenantRef = errors.New("missing_tenant_ref")
)

// ReconciliationTask parks an event an operator has to look at.
type ReconciliationTask struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	EventID    string            `gorm:"type:text;not null"`
	EventType  string            `gorm:"type:text;not null"`
	Reason     string            `gorm:"type:text;not null"`
	Payload    datatypes.JSONMap `gorm:"type:jsonb"`
	ResolvedAt *time.Time
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ReconciliationTask) TableName() string { return "reconciliation_tasks" }
