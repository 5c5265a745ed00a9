package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbuspay/nimbus/internal/clock"
	journaldomain "github.com/nimbuspay/nimbus/internal/journal/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// staleClaimAfter is how long a pending claim may sit before a redelivery
// is allowed to reclaim it. Covers workers that crashed mid-processing.
const staleClaimAfter = 5 * time.Minute

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) journaldomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("journal.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Begin(ctx context.Context, eventID, eventType string) (journaldomain.BeginResult, error) {
	now := s.clock.Now()

	res := s.db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, event_id, event_type, status, failure_reason, received_at, completed_at
		) VALUES (?, ?, ?, ?, NULL, ?, NULL)
		ON CONFLICT (event_id) DO NOTHING`,
		s.genID.Generate(),
		eventID,
		eventType,
		journaldomain.StatusPending,
		now,
	)
	if res.Error != nil {
		return journaldomain.BeginResult{}, res.Error
	}
	if res.RowsAffected > 0 {
		return journaldomain.BeginResult{IsNew: true}, nil
	}

	var existing journaldomain.EventRecord
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, event_id, event_type, status, failure_reason, received_at, completed_at
		 FROM webhook_events
		 WHERE event_id = ?
		 LIMIT 1`,
		eventID,
	).Scan(&existing).Error; err != nil {
		return journaldomain.BeginResult{}, err
	}
	if existing.ID == 0 {
		// Row vanished between insert and read. Treat as in flight and let
		// the provider redeliver.
		return journaldomain.BeginResult{}, journaldomain.ErrEventInFlight
	}

	if existing.Status == journaldomain.StatusCompleted {
		return journaldomain.BeginResult{AlreadyCompleted: true}, nil
	}

	if existing.Status == journaldomain.StatusPending && now.Sub(existing.ReceivedAt) < staleClaimAfter {
		return journaldomain.BeginResult{}, journaldomain.ErrEventInFlight
	}

	// Failed claims and stale pending claims are reclaimed. The guarded
	// UPDATE makes sure only one of several concurrent redeliveries wins.
	claim := s.db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET status = ?, failure_reason = NULL, received_at = ?
		 WHERE event_id = ? AND status = ? AND received_at = ?`,
		journaldomain.StatusPending,
		now,
		eventID,
		existing.Status,
		existing.ReceivedAt,
	)
	if claim.Error != nil {
		return journaldomain.BeginResult{}, claim.Error
	}
	if claim.RowsAffected == 0 {
		return journaldomain.BeginResult{}, journaldomain.ErrEventInFlight
	}

	s.log.Info("reclaimed webhook event",
		zap.String("event_id", eventID),
		zap.String("previous_status", string(existing.Status)),
	)
	return journaldomain.BeginResult{IsNew: true}, nil
}

func (s *Service) Complete(ctx context.Context, eventID string) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET status = ?, completed_at = ?, failure_reason = NULL
		 WHERE event_id = ?`,
		journaldomain.StatusCompleted,
		s.clock.Now(),
		eventID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return journaldomain.ErrUnknownEvent
	}
	return nil
}

func (s *Service) Fail(ctx context.Context, eventID, reason string) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET status = ?, failure_reason = ?
		 WHERE event_id = ? AND status <> ?`,
		journaldomain.StatusFailed,
		reason,
		eventID,
		journaldomain.StatusCompleted,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return journaldomain.ErrUnknownEvent
	}
	return nil
}
