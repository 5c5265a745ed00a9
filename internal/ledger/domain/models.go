// Package domain contains the persistence model for the credit ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CreditEntryType classifies a credit movement.
type CreditEntryType string

const (
	// EntryTypePurchase is a paid credit top-up. Always positive.
	EntryTypePurchase CreditEntryType = "purchase"
	// EntryTypeAllocation is a grant without money movement (plan quota,
	// promo, proration credit). Always positive.
	EntryTypeAllocation CreditEntryType = "allocation"
	// EntryTypeConsumption is usage drawing the balance down. Always negative.
	EntryTypeConsumption CreditEntryType = "consumption"
	// EntryTypeRefund reverses part or all of an earlier purchase. Always negative.
	EntryTypeRefund CreditEntryType = "refund"
)

// CreditEntry is one immutable signed movement. The balance for a
// tenant/entity is the signed sum of its entries; rows are never updated
// or deleted. IdempotencyKey, when set, is unique across the table so a
// replayed write lands on the existing row instead of appending again.
type CreditEntry struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	TenantID       snowflake.ID      `gorm:"not null;index:ix_credit_entries_tenant_entity,priority:1"`
	EntityID       snowflake.ID      `gorm:"not null;index:ix_credit_entries_tenant_entity,priority:2"`
	EntryType      CreditEntryType   `gorm:"column:entry_type;type:text;not null"`
	Amount         int64             `gorm:"not null"`
	Currency       string            `gorm:"type:text;not null"`
	SourceRef      *string           `gorm:"type:text;index"`
	IdempotencyKey *string           `gorm:"type:text;uniqueIndex:ux_credit_entries_idempotency_key"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditEntry) TableName() string { return "credit_entries" }
