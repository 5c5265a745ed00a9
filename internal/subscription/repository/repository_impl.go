package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbuspay/nimbus/internal/subscription/domain"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, tenant_id, plan_id, status, current_period_start,
	current_period_end, trial_end, external_subscription_ref, external_customer_ref,
	has_ever_upgraded, trial_manually_disabled, metadata, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// lockClause returns the row lock suffix for dialects that support it.
// sqlite serializes writers itself and rejects FOR UPDATE.
func lockClause(db *gorm.DB) string {
	if db.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, tenant_id, plan_id, status, current_period_start, current_period_end,
			trial_end, external_subscription_ref, external_customer_ref,
			has_ever_upgraded, trial_manually_disabled, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.TenantID,
		subscription.PlanID,
		string(subscription.Status),
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.TrialEnd,
		subscription.ExternalSubscriptionRef,
		subscription.ExternalCustomerRef,
		subscription.HasEverUpgraded,
		subscription.TrialManuallyDisabled,
		subscription.Metadata,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET
			plan_id = ?, status = ?, current_period_start = ?, current_period_end = ?,
			trial_end = ?, external_subscription_ref = ?, external_customer_ref = ?,
			has_ever_upgraded = ?, trial_manually_disabled = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		subscription.PlanID,
		string(subscription.Status),
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.TrialEnd,
		subscription.ExternalSubscriptionRef,
		subscription.ExternalCustomerRef,
		subscription.HasEverUpgraded,
		subscription.TrialManuallyDisabled,
		subscription.Metadata,
		subscription.UpdatedAt,
		subscription.ID,
	).Error
}

func (r *repo) FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = ? LIMIT 1`,
		tenantID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByTenantForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = ?`+lockClause(db),
		tenantID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_subscription_ref = ? LIMIT 1`,
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

func (r *repo) ListByStatusTrialEndBefore(ctx context.Context, db *gorm.DB, status domain.Status, cutoff time.Time, limit int) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE status = ? AND trial_end IS NOT NULL AND trial_end <= ?
		 ORDER BY trial_end
		 LIMIT ?`,
		string(status),
		cutoff,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListByStatusPeriodEndBefore(ctx context.Context, db *gorm.DB, status domain.Status, cutoff time.Time, limit int) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE status = ? AND current_period_end IS NOT NULL AND current_period_end <= ?
		 ORDER BY current_period_end
		 LIMIT ?`,
		string(status),
		cutoff,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListTrialsEndingBetween(ctx context.Context, db *gorm.DB, from, to time.Time, limit int) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE status = ? AND trial_manually_disabled = ?
		   AND trial_end IS NOT NULL AND trial_end > ? AND trial_end <= ?
		 ORDER BY trial_end
		 LIMIT ?`,
		string(domain.StatusTrialing),
		false,
		from,
		to,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) InsertPendingChange(ctx context.Context, db *gorm.DB, change *domain.PendingPlanChange) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO pending_plan_changes (
			id, tenant_id, subscription_id, target_plan_id, effective_at, applied_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		change.ID,
		change.TenantID,
		change.SubscriptionID,
		change.TargetPlanID,
		change.EffectiveAt,
		change.AppliedAt,
		change.CreatedAt,
	).Error
}

func (r *repo) FindUnappliedChange(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*domain.PendingPlanChange, error) {
	var item domain.PendingPlanChange
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, subscription_id, target_plan_id, effective_at, applied_at, created_at
		 FROM pending_plan_changes
		 WHERE subscription_id = ? AND applied_at IS NULL
		 LIMIT 1`,
		subscriptionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListDuePendingChanges(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.PendingPlanChange, error) {
	var items []domain.PendingPlanChange
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, subscription_id, target_plan_id, effective_at, applied_at, created_at
		 FROM pending_plan_changes
		 WHERE applied_at IS NULL AND effective_at <= ?
		 ORDER BY effective_at
		 LIMIT ?`,
		cutoff,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) MarkChangeApplied(ctx context.Context, db *gorm.DB, changeID snowflake.ID, appliedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE pending_plan_changes SET applied_at = ? WHERE id = ? AND applied_at IS NULL`,
		appliedAt,
		changeID,
	).Error
}
