package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	FindByTenantForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	FindByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) (*Subscription, error)

	ListByStatusTrialEndBefore(ctx context.Context, db *gorm.DB, status Status, cutoff time.Time, limit int) ([]Subscription, error)
	ListByStatusPeriodEndBefore(ctx context.Context, db *gorm.DB, status Status, cutoff time.Time, limit int) ([]Subscription, error)
	ListTrialsEndingBetween(ctx context.Context, db *gorm.DB, from, to time.Time, limit int) ([]Subscription, error)

	InsertPendingChange(ctx context.Context, db *gorm.DB, change *PendingPlanChange) error
	FindUnappliedChange(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*PendingPlanChange, error)
	ListDuePendingChanges(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]PendingPlanChange, error)
	MarkChangeApplied(ctx context.Context, db *gorm.DB, changeID snowflake.ID, appliedAt time.Time) error
}
