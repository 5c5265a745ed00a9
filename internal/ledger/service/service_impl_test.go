package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	ledgerdomain "github.com/nimbuspay/nimbus/internal/ledger/domain"
	ledgerservice "github.com/nimbuspay/nimbus/internal/ledger/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type noopAuditService struct{}

func (noopAuditService) AuditLog(ctx context.Context, tenantID *snowflake.ID, actor string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func newLedgerService(t *testing.T, db *gorm.DB) ledgerdomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(10)
	require.NoError(t, err)

	return ledgerservice.NewService(ledgerservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		AuditSvc: noopAuditService{},
	})
}

func TestBalanceIsSignedSumOfEntries(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db)

	tenantID := snowflake.ID(1001)
	entityID := snowflake.ID(2001)

	require.NoError(t, svc.Purchase(ctx, ledgerdomain.PurchaseRequest{
		TenantID:  tenantID,
		EntityID:  entityID,
		Amount:    500,
		Currency:  "credits",
		SourceRef: "pay_abc",
	}))
	require.NoError(t, svc.Allocate(ctx, ledgerdomain.AllocateRequest{
		TenantID: tenantID,
		EntityID: entityID,
		Amount:   100,
		Currency: "CREDITS",
	}))
	require.NoError(t, svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		TenantID:     tenantID,
		EntityID:     entityID,
		Amount:       250,
		OperationRef: "op_1",
	}))

	balance, err := svc.Balance(ctx, tenantID, entityID)
	require.NoError(t, err)
	require.Equal(t, int64(350), balance)
}

func TestConsumeBeyondBalanceFailsAndLeavesBalanceUntouched(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db)

	tenantID := snowflake.ID(1002)
	entityID := snowflake.ID(2002)

	require.NoError(t, svc.Allocate(ctx, ledgerdomain.AllocateRequest{
		TenantID: tenantID,
		EntityID: entityID,
		Amount:   40,
		Currency: "CREDITS",
	}))

	err := svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		TenantID: tenantID,
		EntityID: entityID,
		Amount:   100,
	})
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientBalance)

	balance, err := svc.Balance(ctx, tenantID, entityID)
	require.NoError(t, err)
	require.Equal(t, int64(40), balance)

	var count int64
	require.NoError(t, db.Raw(
		`SELECT COUNT(*) FROM credit_entries WHERE tenant_id = ? AND entry_type = ?`,
		tenantID, ledgerdomain.EntryTypeConsumption,
	).Scan(&count).Error)
	require.Zero(t, count)
}

func TestConsumeExactBalanceSucceeds(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db)

	tenantID := snowflake.ID(1003)
	entityID := snowflake.ID(2003)

	require.NoError(t, svc.Purchase(ctx, ledgerdomain.PurchaseRequest{
		TenantID:  tenantID,
		EntityID:  entityID,
		Amount:    75,
		Currency:  "CREDITS",
		SourceRef: "pay_exact",
	}))
	require.NoError(t, svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		TenantID: tenantID,
		EntityID: entityID,
		Amount:   75,
	}))

	balance, err := svc.Balance(ctx, tenantID, entityID)
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestRefundCappedByOriginalPurchase(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db)

	tenantID := snowflake.ID(1004)
	entityID := snowflake.ID(2004)

	require.NoError(t, svc.Purchase(ctx, ledgerdomain.PurchaseRequest{
		TenantID:  tenantID,
		EntityID:  entityID,
		Amount:    300,
		Currency:  "CREDITS",
		SourceRef: "pay_refundable",
	}))

	require.NoError(t, svc.Refund(ctx, ledgerdomain.RefundRequest{
		TenantID:  tenantID,
		EntityID:  entityID,
		Amount:    200,
		SourceRef: "pay_refundable",
		Reason:    "partial refund",
	}))

	// Cumulative refunds for one source may not exceed its purchase amount.
	err := svc.Refund(ctx, ledgerdomain.RefundRequest{
		TenantID:  tenantID,
		EntityID:  entityID,
		Amount:    150,
		SourceRef: "pay_refundable",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrOverRefund)

	require.NoError(t, svc.Refund(ctx, ledgerdomain.RefundRequest{
		TenantID:  tenantID,
		EntityID:  entityID,
		Amount:    100,
		SourceRef: "pay_refundable",
	}))

	balance, err := svc.Balance(ctx, tenantID, entityID)
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestPurchaseReplayWithSameKeyAppendsNothing(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db)

	tenantID := snowflake.ID(1008)
	entityID := snowflake.ID(2008)

	req := ledgerdomain.PurchaseRequest{
		TenantID:       tenantID,
		EntityID:       entityID,
		Amount:         500,
		Currency:       "CREDITS",
		SourceRef:      "cs_replayed",
		IdempotencyKey: "evt_purchase_replay",
	}
	require.NoError(t, svc.Purchase(ctx, req))
	require.NoError(t, svc.Purchase(ctx, req))

	balance, err := svc.Balance(ctx, tenantID, entityID)
	require.NoError(t, err)
	require.Equal(t, int64(500), balance)

	var count int64
	require.NoError(t, db.Raw(
		`SELECT COUNT(*) FROM credit_entries WHERE tenant_id = ?`, tenantID,
	).Scan(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRefundReplayWithSameKeyDoesNotTripOverRefundCap(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db)

	tenantID := snowflake.ID(1009)
	entityID := snowflake.ID(2009)

	require.NoError(t, svc.Purchase(ctx, ledgerdomain.PurchaseRequest{
		TenantID:  tenantID,
		EntityID:  entityID,
		Amount:    300,
		Currency:  "CREDITS",
		SourceRef: "pay_full_refund",
	}))

	refund := ledgerdomain.RefundRequest{
		TenantID:       tenantID,
		EntityID:       entityID,
		Amount:         300,
		SourceRef:      "pay_full_refund",
		IdempotencyKey: "evt_refund_replay",
	}
	require.NoError(t, svc.Refund(ctx, refund))

	// The replay must succeed even though the cap is already exhausted,
	// and must not subtract a second time.
	require.NoError(t, svc.Refund(ctx, refund))

	balance, err := svc.Balance(ctx, tenantID, entityID)
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestRefundUnknownSourceRejected(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db)

	err := svc.Refund(ctx, ledgerdomain.RefundRequest{
		TenantID:  snowflake.ID(1005),
		EntityID:  snowflake.ID(2005),
		Amount:    10,
		SourceRef: "pay_never_seen",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrUnknownSourceRef)
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db)

	tenantID := snowflake.ID(1006)
	entityID := snowflake.ID(2006)

	require.ErrorIs(t, svc.Purchase(ctx, ledgerdomain.PurchaseRequest{
		TenantID: tenantID, EntityID: entityID, Amount: 0, Currency: "CREDITS", SourceRef: "pay_zero",
	}), ledgerdomain.ErrInvalidAmount)
	require.ErrorIs(t, svc.Allocate(ctx, ledgerdomain.AllocateRequest{
		TenantID: tenantID, EntityID: entityID, Amount: -5, Currency: "CREDITS",
	}), ledgerdomain.ErrInvalidAmount)
	require.ErrorIs(t, svc.Consume(ctx, ledgerdomain.ConsumeRequest{
		TenantID: tenantID, EntityID: entityID, Amount: -1,
	}), ledgerdomain.ErrInvalidAmount)
	require.ErrorIs(t, svc.Refund(ctx, ledgerdomain.RefundRequest{
		TenantID: tenantID, EntityID: entityID, Amount: 0, SourceRef: "pay_x",
	}), ledgerdomain.ErrInvalidAmount)
}

func TestConcurrentConsumesNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db)

	tenantID := snowflake.ID(1007)
	entityID := snowflake.ID(2007)

	require.NoError(t, svc.Allocate(ctx, ledgerdomain.AllocateRequest{
		TenantID: tenantID,
		EntityID: entityID,
		Amount:   100,
		Currency: "CREDITS",
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.Consume(ctx, ledgerdomain.ConsumeRequest{
				TenantID: tenantID,
				EntityID: entityID,
				Amount:   10,
			})
		}()
	}
	wg.Wait()

	balance, err := svc.Balance(ctx, tenantID, entityID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, balance, int64(0))
	require.Zero(t, balance)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE credit_entries (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			entity_id BIGINT NOT NULL,
			entry_type TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			source_ref TEXT,
			idempotency_key TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX ix_credit_entries_tenant_entity ON credit_entries(tenant_id, entity_id)`,
		`CREATE UNIQUE INDEX ux_credit_entries_idempotency_key ON credit_entries(idempotency_key)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
