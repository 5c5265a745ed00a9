package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/nimbuspay/nimbus/internal/audit/domain"
	"github.com/nimbuspay/nimbus/internal/clock"
	"github.com/nimbuspay/nimbus/internal/config"
	ledgerdomain "github.com/nimbuspay/nimbus/internal/ledger/domain"
	paymentdomain "github.com/nimbuspay/nimbus/internal/payment/domain"
	"github.com/nimbuspay/nimbus/internal/processor"
	"github.com/nimbuspay/nimbus/internal/proration"
	subscriptiondomain "github.com/nimbuspay/nimbus/internal/subscription/domain"
	"github.com/nimbuspay/nimbus/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        subscriptiondomain.Repository
	Catalog     subscriptiondomain.Catalog
	PaymentRepo paymentdomain.Repository
	LedgerSvc   ledgerdomain.Service
	Processor   processor.Client
	Policy      *config.BillingPolicyHolder
	AuditSvc    auditdomain.Service `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        subscriptiondomain.Repository
	catalog     subscriptiondomain.Catalog
	paymentRepo paymentdomain.Repository
	ledgerSvc   ledgerdomain.Service
	processor   processor.Client
	policy      *config.BillingPolicyHolder
	auditSvc    auditdomain.Service
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("subscription.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		catalog:     p.Catalog,
		paymentRepo: p.PaymentRepo,
		ledgerSvc:   p.LedgerSvc,
		processor:   p.Processor,
		policy:      p.Policy,
		auditSvc:    p.AuditSvc,
	}
}

func isValidStatus(status subscriptiondomain.Status) bool {
	switch status {
	case subscriptiondomain.StatusTrialing,
		subscriptiondomain.StatusActive,
		subscriptiondomain.StatusPastDue,
		subscriptiondomain.StatusSuspended,
		subscriptiondomain.StatusCanceled:
		return true
	default:
		return false
	}
}

func isTransitionAllowed(current, target subscriptiondomain.Status) bool {
	switch current {
	case subscriptiondomain.StatusTrialing:
		return target == subscriptiondomain.StatusPastDue ||
			target == subscriptiondomain.StatusActive ||
			target == subscriptiondomain.StatusCanceled
	case subscriptiondomain.StatusActive:
		return target == subscriptiondomain.StatusPastDue ||
			target == subscriptiondomain.StatusCanceled ||
			target == subscriptiondomain.StatusActive
	case subscriptiondomain.StatusPastDue:
		return target == subscriptiondomain.StatusActive ||
			target == subscriptiondomain.StatusSuspended ||
			target == subscriptiondomain.StatusCanceled
	case subscriptiondomain.StatusSuspended:
		return target == subscriptiondomain.StatusActive ||
			target == subscriptiondomain.StatusCanceled
	case subscriptiondomain.StatusCanceled:
		return false
	default:
		return false
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.Subscription, error) {
	if req.TenantID == 0 {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if _, err := s.catalog.Plan(req.PlanID); err != nil {
		return nil, err
	}
	status := req.Status
	if status == "" {
		status = subscriptiondomain.StatusTrialing
	}
	if !isValidStatus(status) {
		return nil, subscriptiondomain.ErrInvalidTargetStatus
	}

	now := s.clock.Now()
	subscription := &subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		TenantID:           req.TenantID,
		PlanID:             req.PlanID,
		Status:             status,
		CurrentPeriodStart: req.CurrentPeriodStart,
		CurrentPeriodEnd:   req.CurrentPeriodEnd,
		TrialEnd:           req.TrialEnd,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if ref := req.ExternalSubscriptionRef; ref != "" {
		subscription.ExternalSubscriptionRef = &ref
	}
	if ref := req.ExternalCustomerRef; ref != "" {
		subscription.ExternalCustomerRef = &ref
	}
	if req.Metadata != nil {
		subscription.Metadata = datatypes.JSONMap(req.Metadata)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByTenant(ctx, tx, req.TenantID)
		if err != nil {
			return err
		}
		if existing != nil {
			return subscriptiondomain.ErrSubscriptionExists
		}
		return s.repo.Insert(ctx, tx, subscription)
	})
	if err != nil {
		// Two concurrent creates can both pass the existence check; the
		// unique tenant index decides the race.
		if db.IsDuplicateKeyErr(err) {
			return nil, subscriptiondomain.ErrSubscriptionExists
		}
		return nil, err
	}

	s.audit(ctx, subscription.TenantID, "subscription.created", subscription.ID, map[string]any{
		"plan_id": subscription.PlanID,
		"status":  string(subscription.Status),
	})
	return subscription, nil
}

func (s *Service) GetByTenant(ctx context.Context, tenantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return subscription, nil
}

// Transition is the only path a subscription status moves through. Both
// the webhook dispatcher and the monitor call it; re-entry with the current
// status is a no-op, not an error, so redeliveries and rescans stay safe.
func (s *Service) Transition(
	ctx context.Context,
	tenantID snowflake.ID,
	target subscriptiondomain.Status,
	cause subscriptiondomain.TransitionCause,
) (subscriptiondomain.TransitionResult, error) {
	if !isValidStatus(target) {
		return subscriptiondomain.TransitionResult{}, subscriptiondomain.ErrInvalidTargetStatus
	}

	var result subscriptiondomain.TransitionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByTenantForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		result.From = subscription.Status
		result.To = target

		if subscription.Status == target {
			result.NoOp = true
			return nil
		}
		if !isTransitionAllowed(subscription.Status, target) {
			return subscriptiondomain.ErrIllegalTransition
		}

		now := s.clock.Now()
		from := subscription.Status
		subscription.Status = target
		subscription.UpdatedAt = now

		switch target {
		case subscriptiondomain.StatusActive:
			result.LiftAccess = from == subscriptiondomain.StatusPastDue ||
				from == subscriptiondomain.StatusSuspended
			if from == subscriptiondomain.StatusTrialing {
				subscription.TrialEnd = nil
			}
		case subscriptiondomain.StatusPastDue:
			result.RestrictAccess = true
			result.NotifyTemplate = "payment_past_due"
		case subscriptiondomain.StatusSuspended:
			result.RestrictAccess = true
			result.NotifyTemplate = "subscription_suspended"
		case subscriptiondomain.StatusCanceled:
			result.RestrictAccess = true
			result.NotifyTemplate = "subscription_canceled"
			// Zero-amount marker so the payment history shows the cancel.
			record := &paymentdomain.PaymentRecord{
				ID:             s.genID.Generate(),
				TenantID:       tenantID,
				SubscriptionID: &subscription.ID,
				RecordType:     paymentdomain.RecordTypeCancellation,
				Amount:         0,
				Currency:       "USD",
				Status:         paymentdomain.RecordStatusSucceeded,
				Metadata:       datatypes.JSONMap{"cause": string(cause)},
				CreatedAt:      now,
			}
			if err := s.paymentRepo.Insert(ctx, tx, record); err != nil {
				return err
			}
		}

		return s.repo.Update(ctx, tx, subscription)
	})
	if err != nil {
		return subscriptiondomain.TransitionResult{}, err
	}

	if !result.NoOp {
		s.log.Info("subscription transitioned",
			zap.Int64("tenant_id", int64(tenantID)),
			zap.String("from", string(result.From)),
			zap.String("to", string(result.To)),
			zap.String("cause", string(cause)),
		)
		s.audit(ctx, tenantID, "subscription.transitioned", 0, map[string]any{
			"from":  string(result.From),
			"to":    string(result.To),
			"cause": string(cause),
		})
	}
	return result, nil
}

// RecordRenewal advances the paid period after a successful invoice.
// Status is untouched; callers that also need past_due -> active go
// through Transition separately.
func (s *Service) RecordRenewal(ctx context.Context, tenantID snowflake.ID, periodStart, periodEnd time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByTenantForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		// Renewals arrive out of order on redelivery; never move the
		// period backwards.
		if subscription.CurrentPeriodEnd != nil && !periodEnd.After(*subscription.CurrentPeriodEnd) {
			return nil
		}

		subscription.CurrentPeriodStart = &periodStart
		subscription.CurrentPeriodEnd = &periodEnd
		subscription.UpdatedAt = s.clock.Now()
		return s.repo.Update(ctx, tx, subscription)
	})
}

// ChangePlan applies upgrades immediately with a prorated ledger credit for
// the unused remainder of the paid period. Downgrades only land at the
// period boundary: inside the grace window they are scheduled, earlier they
// are rejected with the date the window opens.
func (s *Service) ChangePlan(ctx context.Context, tenantID snowflake.ID, newPlanID string) (subscriptiondomain.ChangePlanResult, error) {
	newPlan, err := s.catalog.Plan(newPlanID)
	if err != nil {
		return subscriptiondomain.ChangePlanResult{}, err
	}

	now := s.clock.Now()
	var result subscriptiondomain.ChangePlanResult
	var upgraded bool
	var externalRef string

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByTenantForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if subscription.Status != subscriptiondomain.StatusActive {
			return subscriptiondomain.ErrSubscriptionNotActive
		}
		if subscription.PlanID == newPlanID {
			return subscriptiondomain.ErrPlanUnchanged
		}

		currentPlan, err := s.catalog.Plan(subscription.PlanID)
		if err != nil {
			return err
		}

		if newPlan.Rank > currentPlan.Rank {
			return s.applyUpgrade(ctx, tx, subscription, currentPlan, newPlan, now, &result, &upgraded, &externalRef)
		}
		return s.scheduleDowngrade(ctx, tx, subscription, newPlan, now, &result)
	})
	if err != nil {
		return subscriptiondomain.ChangePlanResult{}, err
	}

	if upgraded && externalRef != "" {
		// Processor sync happens after the local commit; the webhook for
		// the processor-side change is a no-op against the updated row.
		if err := s.processor.UpdateSubscription(ctx, externalRef, newPlanID); err != nil {
			s.log.Error("processor plan update failed",
				zap.Int64("tenant_id", int64(tenantID)),
				zap.String("plan_id", newPlanID),
				zap.Error(err),
			)
		}
	}
	return result, nil
}

func (s *Service) applyUpgrade(
	ctx context.Context,
	tx *gorm.DB,
	subscription *subscriptiondomain.Subscription,
	currentPlan, newPlan subscriptiondomain.Plan,
	now time.Time,
	result *subscriptiondomain.ChangePlanResult,
	upgraded *bool,
	externalRef *string,
) error {
	var credit int64
	if subscription.CurrentPeriodStart != nil && subscription.CurrentPeriodEnd != nil {
		credit = proration.Prorate(
			*subscription.CurrentPeriodStart,
			*subscription.CurrentPeriodEnd,
			now,
			currentPlan.PeriodAmount,
			currentPlan.Cycle,
		)
	}

	previousPlanID := subscription.PlanID
	subscription.PlanID = newPlan.ID
	subscription.HasEverUpgraded = true
	subscription.UpdatedAt = now
	if err := s.repo.Update(ctx, tx, subscription); err != nil {
		return err
	}

	record := &paymentdomain.PaymentRecord{
		ID:             s.genID.Generate(),
		TenantID:       subscription.TenantID,
		SubscriptionID: &subscription.ID,
		RecordType:     paymentdomain.RecordTypePlanChange,
		Amount:         0,
		Currency:       newPlan.Currency,
		Status:         paymentdomain.RecordStatusSucceeded,
		Metadata: datatypes.JSONMap{
			"from_plan":       previousPlanID,
			"to_plan":         newPlan.ID,
			"prorated_credit": credit,
		},
		CreatedAt: now,
	}
	if err := s.paymentRepo.Insert(ctx, tx, record); err != nil {
		return err
	}

	result.Applied = true
	result.ProratedCredit = credit
	*upgraded = true
	if subscription.ExternalSubscriptionRef != nil {
		*externalRef = *subscription.ExternalSubscriptionRef
	}

	if credit > 0 {
		// Ledger runs its own transaction; an upgrade whose credit grant
		// fails is surfaced, not rolled back, because the plan change at
		// the processor is already in motion.
		if err := s.ledgerSvc.Allocate(ctx, ledgerdomain.AllocateRequest{
			TenantID:  subscription.TenantID,
			Amount:    credit,
			Currency:  newPlan.Currency,
			SourceRef: record.ID.String(),
			Metadata:  map[string]any{"reason": "plan_upgrade_proration"},
		}); err != nil {
			return err
		}
	}

	s.audit(ctx, subscription.TenantID, "subscription.plan_upgraded", subscription.ID, map[string]any{
		"from_plan": previousPlanID,
		"to_plan":   newPlan.ID,
		"credit":    credit,
	})
	return nil
}

func (s *Service) scheduleDowngrade(
	ctx context.Context,
	tx *gorm.DB,
	subscription *subscriptiondomain.Subscription,
	newPlan subscriptiondomain.Plan,
	now time.Time,
	result *subscriptiondomain.ChangePlanResult,
) error {
	if subscription.CurrentPeriodEnd == nil {
		return subscriptiondomain.ErrSubscriptionNotActive
	}
	periodEnd := *subscription.CurrentPeriodEnd

	graceDays := s.policy.Get().DowngradeGraceDays
	windowOpensAt := periodEnd.Add(-time.Duration(graceDays) * 24 * time.Hour)
	if now.Before(windowOpensAt) {
		return &subscriptiondomain.DowngradeNotYetEligibleError{EligibleAt: windowOpensAt}
	}

	existing, err := s.repo.FindUnappliedChange(ctx, tx, subscription.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return subscriptiondomain.ErrChangeAlreadyPending
	}

	change := &subscriptiondomain.PendingPlanChange{
		ID:             s.genID.Generate(),
		TenantID:       subscription.TenantID,
		SubscriptionID: subscription.ID,
		TargetPlanID:   newPlan.ID,
		EffectiveAt:    periodEnd,
		CreatedAt:      now,
	}
	if err := s.repo.InsertPendingChange(ctx, tx, change); err != nil {
		return err
	}

	effective := periodEnd
	result.Applied = false
	result.EffectiveAt = &effective

	s.audit(ctx, subscription.TenantID, "subscription.downgrade_scheduled", subscription.ID, map[string]any{
		"to_plan":      newPlan.ID,
		"effective_at": periodEnd,
	})
	return nil
}

// ApplyPendingChange lands a scheduled downgrade. Called by the monitor
// once effective_at has passed; the guarded applied_at update keeps a
// double scan from applying it twice.
func (s *Service) ApplyPendingChange(ctx context.Context, change subscriptiondomain.PendingPlanChange) error {
	now := s.clock.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByTenantForUpdate(ctx, tx, change.TenantID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		current, err := s.repo.FindUnappliedChange(ctx, tx, subscription.ID)
		if err != nil {
			return err
		}
		if current == nil || current.ID != change.ID {
			// Already applied by an earlier scan.
			return nil
		}

		// Canceled subscriptions keep history only; the scheduled change
		// is consumed without touching the plan.
		if subscription.Status != subscriptiondomain.StatusCanceled {
			previousPlanID := subscription.PlanID
			subscription.PlanID = change.TargetPlanID
			subscription.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, subscription); err != nil {
				return err
			}

			record := &paymentdomain.PaymentRecord{
				ID:             s.genID.Generate(),
				TenantID:       subscription.TenantID,
				SubscriptionID: &subscription.ID,
				RecordType:     paymentdomain.RecordTypePlanChange,
				Amount:         0,
				Currency:       "USD",
				Status:         paymentdomain.RecordStatusSucceeded,
				Metadata: datatypes.JSONMap{
					"from_plan": previousPlanID,
					"to_plan":   change.TargetPlanID,
					"scheduled": true,
				},
				CreatedAt: now,
			}
			if err := s.paymentRepo.Insert(ctx, tx, record); err != nil {
				return err
			}
		}

		return s.repo.MarkChangeApplied(ctx, tx, change.ID, now)
	})
}

// CancelSubscription cancels at the processor first, then locally. The
// processor call happens before the local transition so a processor outage
// never leaves a locally-canceled tenant still being charged.
func (s *Service) CancelSubscription(ctx context.Context, tenantID snowflake.ID, cause subscriptiondomain.TransitionCause) error {
	subscription, err := s.repo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return err
	}
	if subscription == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	if subscription.Status == subscriptiondomain.StatusCanceled {
		return nil
	}

	if subscription.ExternalSubscriptionRef != nil {
		if err := s.processor.CancelSubscription(ctx, *subscription.ExternalSubscriptionRef); err != nil {
			return err
		}
	}

	_, err = s.Transition(ctx, tenantID, subscriptiondomain.StatusCanceled, cause)
	return err
}

func (s *Service) audit(ctx context.Context, tenantID snowflake.ID, action string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	var target *string
	if targetID != 0 {
		v := targetID.String()
		target = &v
	}
	if err := s.auditSvc.AuditLog(ctx, &tenantID, "system", action, "subscription", target, metadata); err != nil {
		s.log.Warn("failed to write subscription audit log", zap.Error(err))
	}
}
