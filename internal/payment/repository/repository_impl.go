package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbuspay/nimbus/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.PaymentRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_records (
			id, tenant_id, subscription_id, record_type, amount, currency,
			status, external_ref, metadata, disputed_at, dispute_status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.TenantID,
		record.SubscriptionID,
		string(record.RecordType),
		record.Amount,
		record.Currency,
		string(record.Status),
		record.ExternalRef,
		record.Metadata,
		record.DisputedAt,
		record.DisputeStatus,
		record.CreatedAt,
	).Error
}

func (r *repo) FindByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) (*domain.PaymentRecord, error) {
	var item domain.PaymentRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, subscription_id, record_type, amount, currency,
			status, external_ref, metadata, disputed_at, dispute_status, created_at
		 FROM payment_records
		 WHERE external_ref = ?
		 LIMIT 1`,
		externalRef,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkDisputed(ctx context.Context, db *gorm.DB, externalRef string, status domain.DisputeStatus, disputedAt time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_records
		 SET disputed_at = ?, dispute_status = ?
		 WHERE external_ref = ?`,
		disputedAt,
		string(status),
		externalRef,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, limit int) ([]domain.PaymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []domain.PaymentRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, subscription_id, record_type, amount, currency,
			status, external_ref, metadata, disputed_at, dispute_status, created_at
		 FROM payment_records
		 WHERE tenant_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		tenantID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
