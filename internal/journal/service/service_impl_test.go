package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/nimbuspay/nimbus/internal/clock"
	journaldomain "github.com/nimbuspay/nimbus/internal/journal/domain"
	journalservice "github.com/nimbuspay/nimbus/internal/journal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newJournal(t *testing.T, db *gorm.DB, clk clock.Clock) journaldomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(20)
	require.NoError(t, err)

	return journalservice.NewService(journalservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
}

func TestBeginFirstDeliveryIsNew(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newJournal(t, db, clk)

	res, err := svc.Begin(ctx, "evt_1", "invoice.paid")
	require.NoError(t, err)
	require.True(t, res.IsNew)
	require.False(t, res.AlreadyCompleted)
}

func TestBeginWhileInFlightIsRejected(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newJournal(t, db, clk)

	_, err := svc.Begin(ctx, "evt_2", "invoice.paid")
	require.NoError(t, err)

	clk.Advance(30 * time.Second)
	_, err = svc.Begin(ctx, "evt_2", "invoice.paid")
	require.ErrorIs(t, err, journaldomain.ErrEventInFlight)
}

func TestBeginAfterCompleteReportsAlreadyCompleted(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newJournal(t, db, clk)

	_, err := svc.Begin(ctx, "evt_3", "invoice.paid")
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, "evt_3"))

	res, err := svc.Begin(ctx, "evt_3", "invoice.paid")
	require.NoError(t, err)
	require.False(t, res.IsNew)
	require.True(t, res.AlreadyCompleted)
}

func TestBeginReclaimsFailedEvent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newJournal(t, db, clk)

	_, err := svc.Begin(ctx, "evt_4", "invoice.payment_failed")
	require.NoError(t, err)
	require.NoError(t, svc.Fail(ctx, "evt_4", "downstream timeout"))

	res, err := svc.Begin(ctx, "evt_4", "invoice.payment_failed")
	require.NoError(t, err)
	require.True(t, res.IsNew)
}

func TestBeginReclaimsStalePendingClaim(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newJournal(t, db, clk)

	_, err := svc.Begin(ctx, "evt_5", "invoice.paid")
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	res, err := svc.Begin(ctx, "evt_5", "invoice.paid")
	require.NoError(t, err)
	require.True(t, res.IsNew)
}

func TestCompleteWithoutBeginFails(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newJournal(t, db, clk)

	require.ErrorIs(t, svc.Complete(ctx, "evt_missing"), journaldomain.ErrUnknownEvent)
	require.ErrorIs(t, svc.Fail(ctx, "evt_missing", "x"), journaldomain.ErrUnknownEvent)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE webhook_events (
			id BIGINT PRIMARY KEY,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			status TEXT NOT NULL,
			failure_reason TEXT,
			received_at DATETIME NOT NULL,
			completed_at DATETIME
		)`,
		`CREATE UNIQUE INDEX ux_webhook_events_event_id ON webhook_events(event_id)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
