package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists payment records. Methods take the transaction handle
// so callers can group a record with the ledger or subscription writes it
// belongs to.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *PaymentRecord) error
	FindByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) (*PaymentRecord, error)
	MarkDisputed(ctx context.Context, db *gorm.DB, externalRef string, status DisputeStatus, disputedAt time.Time) error
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, limit int) ([]PaymentRecord, error)
}

var ErrRecordNotFound = errors.New("payment_record_not_found")
