package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransitionCause records what drove a transition, for audit and payment
// history. Free-form but conventionally dotted, e.g. "webhook.invoice.paid"
// or "monitor.trial_expired".
type TransitionCause string

// TransitionResult tells the caller what happened and which side effects
// it now owes. The state machine itself never touches access restrictions
// or notifications; it only reports the obligation.
type TransitionResult struct {
	From Status
	To   Status
	// NoOp is true when the subscription was already in the target state.
	NoOp bool
	// RestrictAccess is owed after entering past_due or suspended.
	RestrictAccess bool
	// LiftAccess is owed after returning to active.
	LiftAccess bool
	// NotifyTemplate names the notification owed, empty when none.
	NotifyTemplate string
}

// CreateRequest registers a subscription observed at the processor.
type CreateRequest struct {
	TenantID                snowflake.ID
	PlanID                  string
	Status                  Status
	CurrentPeriodStart      *time.Time
	CurrentPeriodEnd        *time.Time
	TrialEnd                *time.Time
	ExternalSubscriptionRef string
	ExternalCustomerRef     string
	Metadata                map[string]any
}

// ChangePlanResult reports how a plan change was applied.
type ChangePlanResult struct {
	// Applied is true when the plan changed immediately; false when a
	// downgrade was scheduled for the period boundary.
	Applied bool
	// EffectiveAt is when a scheduled downgrade will land.
	EffectiveAt *time.Time
	// ProratedCredit is the ledger credit granted for an upgrade.
	ProratedCredit int64
}

// Service is the single authority over subscription status. The webhook
// dispatcher and the monitor both go through Transition; neither writes
// status columns directly.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Subscription, error)
	GetByTenant(ctx context.Context, tenantID snowflake.ID) (*Subscription, error)
	Transition(ctx context.Context, tenantID snowflake.ID, target Status, cause TransitionCause) (TransitionResult, error)
	RecordRenewal(ctx context.Context, tenantID snowflake.ID, periodStart, periodEnd time.Time) error
	ChangePlan(ctx context.Context, tenantID snowflake.ID, newPlanID string) (ChangePlanResult, error)
	CancelSubscription(ctx context.Context, tenantID snowflake.ID, cause TransitionCause) error
	ApplyPendingChange(ctx context.Context, change PendingPlanChange) error
}

var (
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrSubscriptionExists    = errors.New("subscription_exists")
	ErrIllegalTransition     = errors.New("illegal_transition")
	ErrInvalidTargetStatus   = errors.New("invalid_target_status")
	ErrPlanUnchanged         = errors.New("plan_unchanged")
	ErrChangeAlreadyPending  = errors.New("plan_change_already_pending")
	ErrSubscriptionNotActive = errors.New("subscription_not_active")
)

// DowngradeNotYetEligibleError is returned when a downgrade is requested
// before the grace window preceding the period end.
type DowngradeNotYetEligibleError struct {
	EligibleAt time.Time
}

func (e *DowngradeNotYetEligibleError) Error() string {
	return fmt.Sprintf("downgrade_not_yet_eligible until %s", e.EligibleAt.Format(time.RFC3339))
}
