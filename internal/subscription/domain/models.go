// Package domain contains the subscription lifecycle model. Status moves
// only through the transition table enforced by the service; nothing else
// writes the status column.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is a subscription lifecycle state.
type Status string

const (
	StatusTrialing  Status = "trialing"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusSuspended Status = "suspended"
	// StatusCanceled is terminal. Rows are kept for history, never deleted.
	StatusCanceled Status = "canceled"
)

// Subscription captures one tenant's billing agreement. One row per tenant.
type Subscription struct {
	ID                      snowflake.ID      `gorm:"primaryKey"`
	TenantID                snowflake.ID      `gorm:"not null;uniqueIndex:ux_subscriptions_tenant"`
	PlanID                  string            `gorm:"type:text;not null"`
	Status                  Status            `gorm:"type:text;not null"`
	CurrentPeriodStart      *time.Time
	CurrentPeriodEnd        *time.Time
	TrialEnd                *time.Time
	ExternalSubscriptionRef *string           `gorm:"type:text"`
	ExternalCustomerRef     *string           `gorm:"type:text"`
	HasEverUpgraded         bool              `gorm:"not null;default:false"`
	TrialManuallyDisabled   bool              `gorm:"not null;default:false"`
	Metadata                datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt               time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt               time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// PendingPlanChange is a downgrade scheduled for the period boundary.
// At most one unapplied change exists per subscription.
type PendingPlanChange struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	TenantID       snowflake.ID `gorm:"not null"`
	SubscriptionID snowflake.ID `gorm:"not null"`
	TargetPlanID   string       `gorm:"type:text;not null"`
	EffectiveAt    time.Time    `gorm:"not null"`
	AppliedAt      *time.Time
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PendingPlanChange) TableName() string { return "pending_plan_changes" }
