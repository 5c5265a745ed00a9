// Package monitor is the clock-driven side of the billing engine: it
// expires trials and lapsed periods, lands scheduled downgrades and sends
// trial reminders. Every status change goes through the subscription
// service's Transition; the monitor never writes status columns itself.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbuspay/nimbus/internal/access"
	"github.com/nimbuspay/nimbus/internal/clock"
	"github.com/nimbuspay/nimbus/internal/config"
	"github.com/nimbuspay/nimbus/internal/notifier"
	obsmetrics "github.com/nimbuspay/nimbus/internal/observability/metrics"
	subscriptiondomain "github.com/nimbuspay/nimbus/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const scanLockKey = "nimbus:monitor:scan"

var ErrInvalidConfig = errors.New("invalid_monitor_config")

// Health is a point-in-time snapshot served by the health endpoint.
type Health struct {
	Running           bool      `json:"running"`
	LastScanAt        time.Time `json:"last_scan_at"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
}

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Repo            subscriptiondomain.Repository
	SubscriptionSvc subscriptiondomain.Service
	Access          access.Manager
	Notifier        notifier.Notifier
	Policy          *config.BillingPolicyHolder
	Locker          *Locker             `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
	Config          Config              `optional:"true"`
}

type Monitor struct {
	db              *gorm.DB
	log             *zap.Logger
	cfg             Config
	genID           *snowflake.Node
	clock           clock.Clock
	repo            subscriptiondomain.Repository
	subscriptionSvc subscriptiondomain.Service
	access          access.Manager
	notifier        notifier.Notifier
	policy          *config.BillingPolicyHolder
	locker          *Locker
	obsMetrics      *obsmetrics.Metrics

	mu                sync.Mutex
	running           bool
	lastScanAt        time.Time
	consecutiveErrors int
	lastReminderRun   time.Time
}

func New(p Params) (*Monitor, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil ||
		p.Repo == nil || p.SubscriptionSvc == nil || p.Access == nil ||
		p.Notifier == nil || p.Policy == nil {
		return nil, ErrInvalidConfig
	}
	return &Monitor{
		db:              p.DB,
		log:             p.Log.Named("monitor").With(zap.String("component", "monitor")),
		cfg:             p.Config.withDefaults(),
		genID:           p.GenID,
		clock:           p.Clock,
		repo:            p.Repo,
		subscriptionSvc: p.SubscriptionSvc,
		access:          p.Access,
		notifier:        p.Notifier,
		policy:          p.Policy,
		locker:          p.Locker,
		obsMetrics:      p.ObsMetrics,
	}, nil
}

// Health reports the current run state.
func (m *Monitor) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Health{
		Running:           m.running,
		LastScanAt:        m.lastScanAt,
		ConsecutiveErrors: m.consecutiveErrors,
	}
}

// RunOnce executes one full scan. Jobs run in dependency order: pending
// plan changes land before periods are expired so a tenant downgrading at
// the boundary is not marked past_due first. Each job's error is joined,
// never short-circuiting the others.
func (m *Monitor) RunOnce(ctx context.Context) error {
	now := m.clock.Now()

	var err error
	err = errors.Join(err, m.runJob(ctx, "apply_plan_changes", m.applyPlanChangesJob))
	err = errors.Join(err, m.runJob(ctx, "expire_trials", m.expireTrialsJob))
	err = errors.Join(err, m.runJob(ctx, "expire_periods", m.expirePeriodsJob))

	m.mu.Lock()
	reminderDue := m.lastReminderRun.IsZero() || now.Sub(m.lastReminderRun) >= m.cfg.ReminderInterval
	if reminderDue {
		m.lastReminderRun = now
	}
	m.mu.Unlock()
	if reminderDue {
		err = errors.Join(err, m.runJob(ctx, "trial_reminders", m.trialRemindersJob))
	}

	m.mu.Lock()
	m.lastScanAt = now
	if err != nil {
		m.consecutiveErrors++
	} else {
		m.consecutiveErrors = 0
	}
	m.mu.Unlock()

	return err
}

// RunForever scans on the configured interval until the context ends or
// the failure budget is spent. With a locker configured, each scan first
// takes the shared lock so only one instance sweeps per tick.
func (m *Monitor) RunForever(ctx context.Context) {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		m.scan(ctx)

		m.mu.Lock()
		exhausted := m.consecutiveErrors >= m.cfg.MaxConsecutiveFailures
		m.mu.Unlock()
		if exhausted {
			m.log.Error("stopping after repeated scan failures",
				zap.Int("consecutive_errors", m.cfg.MaxConsecutiveFailures),
			)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) scan(ctx context.Context) {
	if m.locker != nil {
		token, ok, err := m.locker.TryLock(ctx, scanLockKey, m.cfg.ScanInterval)
		if err != nil {
			m.log.Warn("scan lock unavailable, skipping scan", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := m.locker.Release(ctx, scanLockKey, token); err != nil {
				m.log.Warn("failed to release scan lock", zap.Error(err))
			}
		}()
	}

	if err := m.RunOnce(ctx); err != nil {
		m.log.Warn("monitor scan failed", zap.Error(err))
	}
}

func (m *Monitor) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, m.cfg.JobTimeout)
	defer cancel()

	if m.obsMetrics != nil {
		m.obsMetrics.IncMonitorJobRun(name)
	}

	err := fn(ctx)

	if m.obsMetrics != nil {
		m.obsMetrics.ObserveMonitorJobDuration(name, time.Since(start))
	}
	if err == nil {
		return nil
	}
	if m.obsMetrics != nil {
		m.obsMetrics.IncMonitorJobError(name)
	}
	return fmt.Errorf("%s: %w", name, err)
}

// expireTrialsJob moves lapsed trials to past_due. A rescan over the same
// rows is harmless: the rows no longer match the trialing filter.
func (m *Monitor) expireTrialsJob(ctx context.Context) error {
	now := m.clock.Now()
	subscriptions, err := m.repo.ListByStatusTrialEndBefore(ctx, m.db, subscriptiondomain.StatusTrialing, now, m.cfg.BatchSize)
	if err != nil {
		return err
	}

	var errs error
	for _, subscription := range subscriptions {
		result, err := m.subscriptionSvc.Transition(ctx,
			subscription.TenantID,
			subscriptiondomain.StatusPastDue,
			"monitor.trial_expired",
		)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("tenant %s: %w", subscription.TenantID, err))
			continue
		}
		m.settleObligations(ctx, &subscription, result)
	}
	return errs
}

// expirePeriodsJob moves active subscriptions whose paid period lapsed
// without a renewal to past_due.
func (m *Monitor) expirePeriodsJob(ctx context.Context) error {
	now := m.clock.Now()
	subscriptions, err := m.repo.ListByStatusPeriodEndBefore(ctx, m.db, subscriptiondomain.StatusActive, now, m.cfg.BatchSize)
	if err != nil {
		return err
	}

	var errs error
	for _, subscription := range subscriptions {
		result, err := m.subscriptionSvc.Transition(ctx,
			subscription.TenantID,
			subscriptiondomain.StatusPastDue,
			"monitor.period_expired",
		)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("tenant %s: %w", subscription.TenantID, err))
			continue
		}
		m.settleObligations(ctx, &subscription, result)
	}
	return errs
}

// applyPlanChangesJob lands scheduled downgrades whose effective time has
// passed.
func (m *Monitor) applyPlanChangesJob(ctx context.Context) error {
	now := m.clock.Now()
	changes, err := m.repo.ListDuePendingChanges(ctx, m.db, now, m.cfg.BatchSize)
	if err != nil {
		return err
	}

	var errs error
	for _, change := range changes {
		if err := m.subscriptionSvc.ApplyPendingChange(ctx, change); err != nil {
			errs = errors.Join(errs, fmt.Errorf("change %s: %w", change.ID, err))
		}
	}
	return errs
}

// trialRemindersJob sends at most one reminder per subscription per lead
// bucket. The unique (subscription_id, bucket) row is the dedup record;
// a rescan that hits the conflict sends nothing.
func (m *Monitor) trialRemindersJob(ctx context.Context) error {
	now := m.clock.Now()
	leads := m.policy.Get().TrialReminderLeadTimes

	var errs error
	for _, lead := range leads {
		subscriptions, err := m.repo.ListTrialsEndingBetween(ctx, m.db, now, now.Add(lead), m.cfg.BatchSize)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}

		bucket := bucketLabel(lead)
		for _, subscription := range subscriptions {
			sent, err := m.markReminderSent(ctx, subscription.TenantID, subscription.ID, bucket, now)
			if err != nil {
				errs = errors.Join(errs, err)
				continue
			}
			if !sent {
				continue
			}
			if recipient := recipientFor(&subscription); recipient != "" {
				m.notifier.Send(ctx, "trial_ending_soon", recipient, map[string]any{
					"tenant_id": subscription.TenantID.String(),
					"trial_end": subscription.TrialEnd,
					"bucket":    bucket,
				})
			}
		}
	}
	return errs
}

func (m *Monitor) markReminderSent(ctx context.Context, tenantID, subscriptionID snowflake.ID, bucket string, sentAt time.Time) (bool, error) {
	res := m.db.WithContext(ctx).Exec(
		`INSERT INTO reminder_logs (id, tenant_id, subscription_id, bucket, sent_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (subscription_id, bucket) DO NOTHING`,
		m.genID.Generate(),
		tenantID,
		subscriptionID,
		bucket,
		sentAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (m *Monitor) settleObligations(ctx context.Context, subscription *subscriptiondomain.Subscription, result subscriptiondomain.TransitionResult) {
	if result.NoOp {
		return
	}
	if result.RestrictAccess {
		if err := m.access.ApplyRestrictions(ctx, subscription.TenantID, access.DefaultRestrictions()); err != nil {
			m.log.Error("failed to apply restrictions",
				zap.Int64("tenant_id", int64(subscription.TenantID)),
				zap.Error(err),
			)
		}
	}
	if result.LiftAccess {
		if err := m.access.LiftRestrictions(ctx, subscription.TenantID); err != nil {
			m.log.Error("failed to lift restrictions",
				zap.Int64("tenant_id", int64(subscription.TenantID)),
				zap.Error(err),
			)
		}
	}
	if result.NotifyTemplate != "" {
		if recipient := recipientFor(subscription); recipient != "" {
			m.notifier.Send(ctx, result.NotifyTemplate, recipient, map[string]any{
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
		return email
	}
	return ""
}

func bucketLabel(lead time.Duration) string {
	if hours := int(lead.Hours()); hours >= 1 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", int(lead.Minutes()))
}
