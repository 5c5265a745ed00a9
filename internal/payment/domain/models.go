// Package domain contains the payment record model. Records are append
// only; the single permitted mutation is attaching dispute information
// to an existing record.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// RecordType classifies what the money movement was for.
type RecordType string

const (
	RecordTypeSubscription   RecordType = "subscription"
	RecordTypeRefund         RecordType = "refund"
	RecordTypePlanChange     RecordType = "plan_change"
	RecordTypeCreditPurchase RecordType = "credit_purchase"
	// RecordTypeCancellation is a zero-amount marker written when a
	// subscription is canceled, so the payment history shows the event.
	RecordTypeCancellation RecordType = "cancellation"
)

// RecordStatus is the terminal outcome reported by the processor.
type RecordStatus string

const (
	RecordStatusSucceeded RecordStatus = "succeeded"
	RecordStatusFailed    RecordStatus = "failed"
)

// DisputeStatus mirrors the processor's dispute lifecycle for a record.
type DisputeStatus string

const (
	DisputeStatusOpen DisputeStatus = "open"
	DisputeStatusWon  DisputeStatus = "won"
	DisputeStatusLost DisputeStatus = "lost"
)

type PaymentRecord struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	TenantID       snowflake.ID      `gorm:"not null;index"`
	SubscriptionID *snowflake.ID     `gorm:"index"`
	RecordType     RecordType        `gorm:"column:record_type;type:text;not null"`
	Amount         int64             `gorm:"not null"`
	Currency       string            `gorm:"type:text;not null"`
	Status         RecordStatus      `gorm:"type:text;not null"`
	ExternalRef    *string           `gorm:"type:text;index"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	DisputedAt     *time.Time
	DisputeStatus  *DisputeStatus `gorm:"type:text"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentRecord) TableName() string { return "payment_records" }
