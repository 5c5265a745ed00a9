// Package domain contains the idempotency journal model for inbound
// webhook events.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EventStatus tracks how far an inbound event got through processing.
type EventStatus string

const (
	// StatusPending marks an event claimed by a worker but not yet finished.
	StatusPending EventStatus = "pending"
	// StatusCompleted marks an event whose side effects were applied.
	StatusCompleted EventStatus = "completed"
	// StatusFailed marks an event whose processing errored after the claim.
	StatusFailed EventStatus = "failed"
)

// EventRecord is one journaled inbound event. EventID is the provider's
// identifier and is unique across the table, so a redelivered event maps
// to the same row.
type EventRecord struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	EventID       string       `gorm:"type:text;not null;uniqueIndex:ux_webhook_events_event_id"`
	EventType     string       `gorm:"type:text;not null"`
	Status        EventStatus  `gorm:"type:text;not null"`
	FailureReason *string      `gorm:"type:text"`
	ReceivedAt    time.Time    `gorm:"not null"`
	CompletedAt   *time.Time
}

// TableName sets the database table name.
func (EventRecord) TableName() string { return "webhook_events" }
