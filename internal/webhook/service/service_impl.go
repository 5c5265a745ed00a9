package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbuspay/nimbus/internal/access"
	"github.com/nimbuspay/nimbus/internal/clock"
	"github.com/nimbuspay/nimbus/internal/config"
	journaldomain "github.com/nimbuspay/nimbus/internal/journal/domain"
	ledgerdomain "github.com/nimbuspay/nimbus/internal/ledger/domain"
	"github.com/nimbuspay/nimbus/internal/notifier"
	obsmetrics "github.com/nimbuspay/nimbus/internal/observability/metrics"
	paymentdomain "github.com/nimbuspay/nimbus/internal/payment/domain"
	subscriptiondomain "github.com/nimbuspay/nimbus/internal/subscription/domain"
	webhookdomain "github.com/nimbuspay/nimbus/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Cfg              config.Config
	Clock            clock.Clock
	GenID            *snowflake.Node
	Journal          journaldomain.Service
	LedgerSvc        ledgerdomain.Service
	SubscriptionSvc  subscriptiondomain.Service
	SubscriptionRepo subscriptiondomain.Repository
	PaymentRepo      paymentdomain.Repository
	Access           access.Manager
	Notifier         notifier.Notifier
	ObsMetrics       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	signingSecret    string
	clock            clock.Clock
	genID            *snowflake.Node
	journal          journaldomain.Service
	ledgerSvc        ledgerdomain.Service
	subscriptionSvc  subscriptiondomain.Service
	subscriptionRepo subscriptiondomain.Repository
	paymentRepo      paymentdomain.Repository
	access           access.Manager
	notifier         notifier.Notifier
	obsMetrics       *obsmetrics.Metrics
}

func NewService(p Params) webhookdomain.Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("webhook.service"),
		signingSecret:    p.Cfg.WebhookSigningSecret,
		clock:            p.Clock,
		genID:            p.GenID,
		journal:          p.Journal,
		ledgerSvc:        p.LedgerSvc,
		subscriptionSvc:  p.SubscriptionSvc,
		subscriptionRepo: p.SubscriptionRepo,
		paymentRepo:      p.PaymentRepo,
		access:           p.Access,
		notifier:         p.Notifier,
		obsMetrics:       p.ObsMetrics,
	}
}

type processorEvent struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Created int64              `json:"created"`
	Data    processorEventData `json:"data"`
}

type processorEventData struct {
	Object json.RawMessage `json:"object"`
}

// Handle verifies, journals and dispatches one delivery. Side effects run
// only between journal Begin and Complete; a redelivered completed event
// produces no new effects.
func (s *Service) Handle(ctx context.Context, payload []byte, signatureHeader string) (webhookdomain.ProcessingResult, error) {
	if err := verifySignature(payload, signatureHeader, s.signingSecret); err != nil {
		s.record("unknown", webhookdomain.ResultFailed)
		return webhookdomain.ResultFailed, err
	}

	var event processorEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.record("unknown", webhookdomain.ResultFailed)
		return webhookdomain.ResultFailed, webhookdomain.ErrMalformedEvent
	}
	event.ID = strings.TrimSpace(event.ID)
	event.Type = strings.TrimSpace(event.Type)
	if event.ID == "" || event.Type == "" {
		s.record("unknown", webhookdomain.ResultFailed)
		return webhookdomain.ResultFailed, webhookdomain.ErrMalformedEvent
	}

	begin, err := s.journal.Begin(ctx, event.ID, event.Type)
	if err != nil {
		// In-flight and storage errors are both transient: the sender
		// retries and the journal decides again.
		return webhookdomain.ResultFailed, err
	}
	if begin.AlreadyCompleted {
		s.record(event.Type, webhookdomain.ResultDuplicate)
		return webhookdomain.ResultDuplicate, nil
	}

	result, dispatchErr := s.dispatch(ctx, event)
	if dispatchErr == nil {
		if err := s.journal.Complete(ctx, event.ID); err != nil {
			return webhookdomain.ResultFailed, err
		}
		s.record(event.Type, result)
		return result, nil
	}

	if failErr := s.journal.Fail(ctx, event.ID, dispatchErr.Error()); failErr != nil {
		s.log.Error("failed to mark journal entry failed",
			zap.String("event_id", event.ID),
			zap.Error(failErr),
		)
	}
	s.record(event.Type, webhookdomain.ResultFailed)

	if s.isPermanent(dispatchErr) {
		// Permanent failures are acknowledged so the sender stops
		// redelivering; the reconciliation row keeps the evidence.
		s.park(ctx, event, dispatchErr)
		s.log.Warn("webhook event parked for reconciliation",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(dispatchErr),
		)
		return webhookdomain.ResultFailed, nil
	}
	return webhookdomain.ResultFailed, dispatchErr
}

func (s *Service) dispatch(ctx context.Context, event processorEvent) (webhookdomain.ProcessingResult, error) {
	switch event.Type {
	case "checkout.session.completed":
		return webhookdomain.ResultProcessed, s.handleCheckoutCompleted(ctx, event)
	case "invoice.paid":
		return webhookdomain.ResultProcessed, s.handleInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		return webhookdomain.ResultProcessed, s.handleInvoiceFailed(ctx, event)
	case "customer.subscription.created":
		return webhookdomain.ResultProcessed, s.handleSubscriptionCreated(ctx, event)
	case "customer.subscription.updated":
		return webhookdomain.ResultProcessed, s.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return webhookdomain.ResultProcessed, s.handleSubscriptionDeleted(ctx, event)
	case "charge.succeeded":
		return webhookdomain.ResultProcessed, s.handleChargeSucceeded(ctx, event)
	case "charge.refunded":
		return webhookdomain.ResultProcessed, s.handleChargeRefunded(ctx, event)
	case "charge.dispute.created":
		return webhookdomain.ResultProcessed, s.handleDisputeCreated(ctx, event)
	default:
		s.log.Info("ignoring unhandled event type", zap.String("event_type", event.Type))
		return webhookdomain.ResultIgnored, nil
	}
}

func (s *Service) isPermanent(err error) bool {
	return errors.Is(err, webhookdomain.ErrMissingTenantRef) ||
		errors.Is(err, webhookdomain.ErrMalformedEvent) ||
		errors.Is(err, ledgerdomain.ErrOverRefund) ||
		errors.Is(err, ledgerdomain.ErrUnknownSourceRef) ||
		errors.Is(err, ledgerdomain.ErrInvalidAmount) ||
		errors.Is(err, subscriptiondomain.ErrIllegalTransition) ||
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) ||
		errors.Is(err, subscriptiondomain.ErrUnknownPlan) ||
		errors.Is(err, paymentdomain.ErrRecordNotFound)
}

func (s *Service) park(ctx context.Context, event processorEvent, cause error) {
	task := webhookdomain.ReconciliationTask{
		ID:        s.genID.Generate(),
		EventID:   event.ID,
		EventType: event.Type,
		Reason:    cause.Error(),
		Payload:   datatypes.JSONMap{"object": string(event.Data.Object)},
		CreatedAt: s.clock.Now(),
	}
	err := s.db.WithContext(ctx).Exec(
		`INSERT INTO reconciliation_tasks (id, event_id, event_type, reason, payload, resolved_at, created_at)
		 VALUES (?, ?, ?, ?, ?, NULL, ?)`,
		task.ID,
		task.EventID,
		task.EventType,
		task.Reason,
		task.Payload,
		task.CreatedAt,
	).Error
	if err != nil {
		s.log.Error("failed to insert reconciliation task",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}

type checkoutSessionObject struct {
	ID          string            `json:"id"`
	Customer    string            `json:"customer"`
	AmountTotal int64             `json:"amount_total"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event processorEvent) error {
	var session checkoutSessionObject
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return webhookdomain.ErrMalformedEvent
	}

	tenantID, err := tenantFromMetadata(session.Metadata)
	if err != nil {
		return err
	}

	credits := session.AmountTotal
	if raw, ok := session.Metadata["credits"]; ok {
		parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || parsed <= 0 {
			return webhookdomain.ErrMalformedEvent
		}
		credits = parsed
	}

	if err := s.ledgerSvc.Purchase(ctx, ledgerdomain.PurchaseRequest{
		TenantID:       tenantID,
		Amount:         credits,
		Currency:       "CREDITS",
		SourceRef:      session.ID,
		IdempotencyKey: event.ID,
		Metadata:       map[string]any{"event_id": event.ID},
	}); err != nil {
		return err
	}

	externalRef := session.ID
	return s.paymentRepo.Insert(ctx, s.db, &paymentdomain.PaymentRecord{
		ID:          s.genID.Generate(),
		TenantID:    tenantID,
		RecordType:  paymentdomain.RecordTypeCreditPurchase,
		Amount:      session.AmountTotal,
		Currency:    normalizeEventCurrency(session.Currency),
		Status:      paymentdomain.RecordStatusSucceeded,
		ExternalRef: &externalRef,
		Metadata:    datatypes.JSONMap{"credits": credits, "event_id": event.ID},
		CreatedAt:   s.clock.Now(),
	})
}

type invoiceObject struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	AmountPaid   int64             `json:"amount_paid"`
	AmountDue    int64             `json:"amount_due"`
	Currency     string            `json:"currency"`
	PeriodStart  int64             `json:"period_start"`
	PeriodEnd    int64             `json:"period_end"`
	Metadata     map[string]string `json:"metadata"`
}

func (s *Service) handleInvoicePaid(ctx context.Context, event processorEvent) error {
	var invoice invoiceObject
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return webhookdomain.ErrMalformedEvent
	}

	subscription, err := s.resolveSubscription(ctx, invoice.Metadata, invoice.Subscription)
	if err != nil {
		return err
	}

	externalRef := invoice.ID
	subID := subscription.ID
	if err := s.paymentRepo.Insert(ctx, s.db, &paymentdomain.PaymentRecord{
		ID:             s.genID.Generate(),
		TenantID:       subscription.TenantID,
		SubscriptionID: &subID,
		RecordType:     paymentdomain.RecordTypeSubscription,
		Amount:         invoice.AmountPaid,
		Currency:       normalizeEventCurrency(invoice.Currency),
		Status:         paymentdomain.RecordStatusSucceeded,
		ExternalRef:    &externalRef,
		Metadata:       datatypes.JSONMap{"event_id": event.ID},
		CreatedAt:      s.clock.Now(),
	}); err != nil {
		return err
	}

	if invoice.PeriodStart > 0 && invoice.PeriodEnd > invoice.PeriodStart {
		if err := s.subscriptionSvc.RecordRenewal(ctx,
			subscription.TenantID,
			time.Unix(invoice.PeriodStart, 0).UTC(),
			time.Unix(invoice.PeriodEnd, 0).UTC(),
		); err != nil {
			return err
		}
	}

	switch subscription.Status {
	case subscriptiondomain.StatusTrialing,
		subscriptiondomain.StatusPastDue,
		subscriptiondomain.StatusSuspended:
		result, err := s.subscriptionSvc.Transition(ctx,
			subscription.TenantID,
			subscriptiondomain.StatusActive,
			subscriptiondomain.TransitionCause("webhook."+event.Type),
		)
		if err != nil {
			return err
		}
		s.settleObligations(ctx, subscription, result)
	}
	return nil
}

func (s *Service) handleInvoiceFailed(ctx context.Context, event processorEvent) error {
	var invoice invoiceObject
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return webhookdomain.ErrMalformedEvent
	}

	subscription, err := s.resolveSubscription(ctx, invoice.Metadata, invoice.Subscription)
	if err != nil {
		return err
	}

	externalRef := invoice.ID
	subID := subscription.ID
	if err := s.paymentRepo.Insert(ctx, s.db, &paymentdomain.PaymentRecord{
		ID:             s.genID.Generate(),
		TenantID:       subscription.TenantID,
		SubscriptionID: &subID,
		RecordType:     paymentdomain.RecordTypeSubscription,
		Amount:         invoice.AmountDue,
		Currency:       normalizeEventCurrency(invoice.Currency),
		Status:         paymentdomain.RecordStatusFailed,
		ExternalRef:    &externalRef,
		Metadata:       datatypes.JSONMap{"event_id": event.ID},
		CreatedAt:      s.clock.Now(),
	}); err != nil {
		return err
	}

	switch subscription.Status {
	case subscriptiondomain.StatusTrialing, subscriptiondomain.StatusActive:
		result, err := s.subscriptionSvc.Transition(ctx,
			subscription.TenantID,
			subscriptiondomain.StatusPastDue,
			subscriptiondomain.TransitionCause("webhook."+event.Type),
		)
		if err != nil {
			return err
		}
		s.settleObligations(ctx, subscription, result)
	}
	return nil
}

type subscriptionObject struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Plan               string            `json:"plan"`
	Status             string            `json:"status"`
	TrialEnd           int64             `json:"trial_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
}

func (s *Service) handleSubscriptionCreated(ctx context.Context, event processorEvent) error {
	var object subscriptionObject
	if err := json.Unmarshal(event.Data.Object, &object); err != nil {
		return webhookdomain.ErrMalformedEvent
	}

	tenantID, err := tenantFromMetadata(object.Metadata)
	if err != nil {
		return err
	}

	status := subscriptiondomain.StatusTrialing
	if object.Status == string(subscriptiondomain.StatusActive) {
		status = subscriptiondomain.StatusActive
	}

	req := subscriptiondomain.CreateRequest{
		TenantID:                tenantID,
		PlanID:                  object.Plan,
		Status:                  status,
		ExternalSubscriptionRef: object.ID,
		ExternalCustomerRef:     object.Customer,
		Metadata:                map[string]any{"event_id": event.ID},
	}
	if object.TrialEnd > 0 {
		trialEnd := time.Unix(object.TrialEnd, 0).UTC()
		req.TrialEnd = &trialEnd
	}
	if object.CurrentPeriodStart > 0 {
		start := time.Unix(object.CurrentPeriodStart, 0).UTC()
		req.CurrentPeriodStart = &start
	}
	if object.CurrentPeriodEnd > 0 {
		end := time.Unix(object.CurrentPeriodEnd, 0).UTC()
		req.CurrentPeriodEnd = &end
	}

	_, err = s.subscriptionSvc.Create(ctx, req)
	if errors.Is(err, subscriptiondomain.ErrSubscriptionExists) {
		// Redelivery after a partial failure; the row is already there.
		return nil
	}
	return err
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event processorEvent) error {
	var object subscriptionObject
	if err := json.Unmarshal(event.Data.Object, &object); err != nil {
		return webhookdomain.ErrMalformedEvent
	}

	subscription, err := s.resolveSubscription(ctx, object.Metadata, object.ID)
	if err != nil {
		return err
	}

	if object.CurrentPeriodStart > 0 && object.CurrentPeriodEnd > object.CurrentPeriodStart {
		if err := s.subscriptionSvc.RecordRenewal(ctx,
			subscription.TenantID,
			time.Unix(object.CurrentPeriodStart, 0).UTC(),
			time.Unix(object.CurrentPeriodEnd, 0).UTC(),
		); err != nil {
			return err
		}
	}

	if object.Status == string(subscriptiondomain.StatusActive) &&
		subscription.Status == subscriptiondomain.StatusTrialing {
		result, err := s.subscriptionSvc.Transition(ctx,
			subscription.TenantID,
			subscriptiondomain.StatusActive,
			subscriptiondomain.TransitionCause("webhook."+event.Type),
		)
		if err != nil {
			return err
		}
		s.settleObligations(ctx, subscription, result)
	}
	return nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event processorEvent) error {
	var object subscriptionObject
	if err := json.Unmarshal(event.Data.Object, &object); err != nil {
		return webhookdomain.ErrMalformedEvent
	}

	subscription, err := s.resolveSubscription(ctx, object.Metadata, object.ID)
	if err != nil {
		return err
	}
	if subscription.Status == subscriptiondomain.StatusCanceled {
		return nil
	}

	result, err := s.subscriptionSvc.Transition(ctx,
		subscription.TenantID,
		subscriptiondomain.StatusCanceled,
		subscriptiondomain.TransitionCause("webhook."+event.Type),
	)
	if err != nil {
		return err
	}
	s.settleObligations(ctx, subscription, result)
	return nil
}

type chargeObject struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

func (s *Service) handleChargeSucceeded(ctx context.Context, event processorEvent) error {
	var charge chargeObject
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return webhookdomain.ErrMalformedEvent
	}

	existing, err := s.paymentRepo.FindByExternalRef(ctx, s.db, charge.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		// The invoice or checkout event already recorded this charge.
		return nil
	}

	tenantID, err := tenantFromMetadata(charge.Metadata)
	if err != nil {
		return err
	}

	externalRef := charge.ID
	return s.paymentRepo.Insert(ctx, s.db, &paymentdomain.PaymentRecord{
		ID:          s.genID.Generate(),
		TenantID:    tenantID,
		RecordType:  paymentdomain.RecordTypeSubscription,
		Amount:      charge.Amount,
		Currency:    normalizeEventCurrency(charge.Currency),
		Status:      paymentdomain.RecordStatusSucceeded,
		ExternalRef: &externalRef,
		Metadata:    datatypes.JSONMap{"event_id": event.ID, "source": event.Type},
		CreatedAt:   s.clock.Now(),
	})
}

func (s *Service) handleChargeRefunded(ctx context.Context, event processorEvent) error {
	var charge chargeObject
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return webhookdomain.ErrMalformedEvent
	}
	if charge.AmountRefunded <= 0 {
		return webhookdomain.ErrMalformedEvent
	}

	tenantID, err := tenantFromMetadata(charge.Metadata)
	if err != nil {
		return err
	}

	// Credits were purchased under the checkout session ref; the charge
	// carries it in metadata so the refund can find the purchase.
	sourceRef := strings.TrimSpace(charge.Metadata["source_ref"])
	if sourceRef == "" {
		sourceRef = charge.ID
	}

	refundedCredits := charge.AmountRefunded
	if raw, ok := charge.Metadata["credits"]; ok {
		parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || parsed <= 0 {
			return webhookdomain.ErrMalformedEvent
		}
		refundedCredits = parsed
	}

	if err := s.ledgerSvc.Refund(ctx, ledgerdomain.RefundRequest{
		TenantID:       tenantID,
		Amount:         refundedCredits,
		SourceRef:      sourceRef,
		Reason:         "processor_refund",
		IdempotencyKey: event.ID,
		Metadata:       map[string]any{"event_id": event.ID},
	}); err != nil {
		return err
	}

	externalRef := event.ID
	return s.paymentRepo.Insert(ctx, s.db, &paymentdomain.PaymentRecord{
		ID:          s.genID.Generate(),
		TenantID:    tenantID,
		RecordType:  paymentdomain.RecordTypeRefund,
		Amount:      -charge.AmountRefunded,
		Currency:    normalizeEventCurrency(charge.Currency),
		Status:      paymentdomain.RecordStatusSucceeded,
		ExternalRef: &externalRef,
		Metadata:    datatypes.JSONMap{"charge": charge.ID, "source_ref": sourceRef},
		CreatedAt:   s.clock.Now(),
	})
}

type disputeObject struct {
	ID       string            `json:"id"`
	Charge   string            `json:"charge"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Service) handleDisputeCreated(ctx context.Context, event processorEvent) error {
	var dispute disputeObject
	if err := json.Unmarshal(event.Data.Object, &dispute); err != nil {
		return webhookdomain.ErrMalformedEvent
	}
	if strings.TrimSpace(dispute.Charge) == "" {
		return webhookdomain.ErrMalformedEvent
	}

	return s.paymentRepo.MarkDisputed(ctx, s.db, dispute.Charge, paymentdomain.DisputeStatusOpen, s.clock.Now())
}

// resolveSubscription correlates an event to a tenant, preferring the
// tenant_id stamped in metadata and falling back to the external
// subscription ref.
func (s *Service) resolveSubscription(ctx context.Context, metadata map[string]string, externalRef string) (*subscriptiondomain.Subscription, error) {
	if tenantID, err := tenantFromMetadata(metadata); err == nil {
		subscription, err := s.subscriptionRepo.FindByTenant(ctx, s.db, tenantID)
		if err != nil {
			return nil, err
		}
		if subscription != nil {
			return subscription, nil
		}
	}

	if ref := strings.TrimSpace(externalRef); ref != "" {
		subscription, err := s.subscriptionRepo.FindByExternalRef(ctx, s.db, ref)
		if err != nil {
			return nil, err
		}
		if subscription != nil {
			return subscription, nil
		}
	}
	return nil, webhookdomain.ErrMissingTenantRef
}

// settleObligations executes the side effects a transition reported.
// Best-effort: the status change is already committed, so a failed
// restriction write is logged for the next monitor pass, not rolled back.
func (s *Service) settleObligations(ctx context.Context, subscription *subscriptiondomain.Subscription, result subscriptiondomain.TransitionResult) {
	if result.NoOp {
		return
	}
	if result.RestrictAccess {
		if err := s.access.ApplyRestrictions(ctx, subscription.TenantID, access.DefaultRestrictions()); err != nil {
			s.log.Error("failed to apply restrictions",
				zap.Int64("tenant_id", int64(subscription.TenantID)),
				zap.Error(err),
			)
		}
	}
	if result.LiftAccess {
		if err := s.access.LiftRestrictions(ctx, subscription.TenantID); err != nil {
			s.log.Error("failed to lift restrictions",
				zap.Int64("tenant_id", int64(subscription.TenantID)),
				zap.Error(err),
			)
		}
	}
	if result.NotifyTemplate != "" {
		if recipient := recipientFor(subscription); recipient != "" {
			s.notifier.Send(ctx, result.NotifyTemplate, recipient, map[string]any{
				"tenant_id": subscription.TenantID.String(),
				"status":    string(result.To),
			})
		}
	}
}

func recipientFor(subscription *subscriptiondomain.Subscription) string {
	if subscription.Metadata == nil {
		return ""
	}
	if email, ok := subscription.Metadata["billing_email"].(string); ok {
		return strings.TrimSpace(email)
	}
	return ""
}

func tenantFromMetadata(metadata map[string]string) (snowflake.ID, error) {
	raw := strings.TrimSpace(metadata["tenant_id"])
	if raw == "" {
		return 0, webhookdomain.ErrMissingTenantRef
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, webhookdomain.ErrMissingTenantRef
	}
	return id, nil
}

func normalizeEventCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "USD"
	}
	return currency
}

func (s *Service) record(eventType string, result webhookdomain.ProcessingResult) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookEvent(eventType, string(result))
	}
}
