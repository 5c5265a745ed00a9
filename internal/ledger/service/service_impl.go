package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/nimbuspay/nimbus/internal/audit/domain"
	ledgerdomain "github.com/nimbuspay/nimbus/internal/ledger/domain"
	obsmetrics "github.com/nimbuspay/nimbus/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	balances   *keyedMutex
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		balances:   newKeyedMutex(),
	}
}

func (s *Service) Purchase(ctx context.Context, req ledgerdomain.PurchaseRequest) error {
	if req.TenantID == 0 {
		return ledgerdomain.ErrInvalidTenant
	}
	if req.Amount <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return err
	}
	sourceRef := strings.TrimSpace(req.SourceRef)
	if sourceRef == "" {
		return ledgerdomain.ErrInvalidSourceRef
	}

	return s.append(ctx, ledgerdomain.CreditEntry{
		TenantID:       req.TenantID,
		EntityID:       req.EntityID,
		EntryType:      ledgerdomain.EntryTypePurchase,
		Amount:         req.Amount,
		Currency:       currency,
		SourceRef:      &sourceRef,
		IdempotencyKey: idempotencyKey(req.IdempotencyKey),
		Metadata:       toJSONMap(req.Metadata),
	})
}

func (s *Service) Allocate(ctx context.Context, req ledgerdomain.AllocateRequest) error {
	if req.TenantID == 0 {
		return ledgerdomain.ErrInvalidTenant
	}
	if req.Amount <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return err
	}

	entry := ledgerdomain.CreditEntry{
		TenantID:  req.TenantID,
		EntityID:  req.EntityID,
		EntryType: ledgerdomain.EntryTypeAllocation,
		Amount:    req.Amount,
		Currency:  currency,
		Metadata:  toJSONMap(req.Metadata),
	}
	if sourceRef := strings.TrimSpace(req.SourceRef); sourceRef != "" {
		entry.SourceRef = &sourceRef
	}
	return s.append(ctx, entry)
}

// Consume appends a negative entry only when the resulting balance stays
// non-negative. The balance check and the insert run under the per-key lock
// in one transaction, so concurrent consumes for the same tenant/entity
// cannot interleave past the invariant.
func (s *Service) Consume(ctx context.Context, req ledgerdomain.ConsumeRequest) error {
	if req.TenantID == 0 {
		return ledgerdomain.ErrInvalidTenant
	}
	if req.Amount <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}

	key := balanceKey(req.TenantID, req.EntityID)
	s.balances.Lock(key)
	defer s.balances.Unlock(key)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.balanceTx(ctx, tx, req.TenantID, req.EntityID)
		if err != nil {
			return err
		}
		if balance < req.Amount {
			return ledgerdomain.ErrInsufficientBalance
		}

		entry := ledgerdomain.CreditEntry{
			TenantID:  req.TenantID,
			EntityID:  req.EntityID,
			EntryType: ledgerdomain.EntryTypeConsumption,
			Amount:    -req.Amount,
			Currency:  "CREDITS",
			Metadata:  toJSONMap(req.Metadata),
		}
		if opRef := strings.TrimSpace(req.OperationRef); opRef != "" {
			entry.SourceRef = &opRef
		}
		return s.insertTx(ctx, tx, &entry)
	})
}

// Refund appends a negative entry capped so that cumulative refunds for one
// source never exceed that source's original purchase amount.
func (s *Service) Refund(ctx context.Context, req ledgerdomain.RefundRequest) error {
	if req.TenantID == 0 {
		return ledgerdomain.ErrInvalidTenant
	}
	if req.Amount <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	sourceRef := strings.TrimSpace(req.SourceRef)
	if sourceRef == "" {
		return ledgerdomain.ErrInvalidSourceRef
	}

	key := balanceKey(req.TenantID, req.EntityID)
	s.balances.Lock(key)
	defer s.balances.Unlock(key)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A replay has to short-circuit before the over-refund check:
		// the first attempt's entry already counts toward the cap.
		if key := idempotencyKey(req.IdempotencyKey); key != nil {
			applied, err := s.entryExistsTx(ctx, tx, *key)
			if err != nil {
				return err
			}
			if applied {
				return nil
			}
		}

		var purchased int64
		if err := tx.WithContext(ctx).Raw(
			`SELECT COALESCE(SUM(amount), 0)
			 FROM credit_entries
			 WHERE tenant_id = ? AND entity_id = ? AND source_ref = ? AND entry_type = ?`,
			req.TenantID,
			req.EntityID,
			sourceRef,
			ledgerdomain.EntryTypePurchase,
		).Scan(&purchased).Error; err != nil {
			return err
		}
		if purchased <= 0 {
			return ledgerdomain.ErrUnknownSourceRef
		}

		var refunded int64
		if err := tx.WithContext(ctx).Raw(
			`SELECT COALESCE(SUM(-amount), 0)
			 FROM credit_entries
			 WHERE tenant_id = ? AND entity_id = ? AND source_ref = ? AND entry_type = ?`,
			req.TenantID,
			req.EntityID,
			sourceRef,
			ledgerdomain.EntryTypeRefund,
		).Scan(&refunded).Error; err != nil {
			return err
		}
		if refunded+req.Amount > purchased {
			return ledgerdomain.ErrOverRefund
		}

		metadata := req.Metadata
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			if metadata == nil {
				metadata = map[string]any{}
			}
			metadata["reason"] = reason
		}

		entry := ledgerdomain.CreditEntry{
			TenantID:       req.TenantID,
			EntityID:       req.EntityID,
			EntryType:      ledgerdomain.EntryTypeRefund,
			Amount:         -req.Amount,
			Currency:       "CREDITS",
			SourceRef:      &sourceRef,
			IdempotencyKey: idempotencyKey(req.IdempotencyKey),
			Metadata:       toJSONMap(metadata),
		}
		return s.insertTx(ctx, tx, &entry)
	})
}

func (s *Service) Balance(ctx context.Context, tenantID, entityID snowflake.ID) (int64, error) {
	if tenantID == 0 {
		return 0, ledgerdomain.ErrInvalidTenant
	}
	return s.balanceTx(ctx, s.db, tenantID, entityID)
}

func (s *Service) append(ctx context.Context, entry ledgerdomain.CreditEntry) error {
	key := balanceKey(entry.TenantID, entry.EntityID)
	s.balances.Lock(key)
	defer s.balances.Unlock(key)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.insertTx(ctx, tx, &entry)
	})
}

func (s *Service) insertTx(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.CreditEntry) error {
	entry.ID = s.genID.Generate()
	entry.CreatedAt = time.Now().UTC()
	if entry.Currency == "" {
		entry.Currency = "CREDITS"
	}

	res := tx.WithContext(ctx).Exec(
		`INSERT INTO credit_entries (
			id, tenant_id, entity_id, entry_type, amount, currency, source_ref, idempotency_key, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		entry.ID,
		entry.TenantID,
		entry.EntityID,
		string(entry.EntryType),
		entry.Amount,
		entry.Currency,
		entry.SourceRef,
		entry.IdempotencyKey,
		entry.Metadata,
		entry.CreatedAt,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// A keyed entry from a previous delivery already holds this spot.
		s.log.Debug("skipping replayed ledger entry",
			zap.String("entry_type", string(entry.EntryType)),
			zap.Int64("tenant_id", int64(entry.TenantID)),
		)
		return nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(string(entry.EntryType))
	}

	if s.auditSvc != nil {
		entryID := entry.ID.String()
		tenantID := entry.TenantID
		metadata := map[string]any{
			"entry_type": string(entry.EntryType),
			"amount":     entry.Amount,
		}
		if entry.SourceRef != nil {
			metadata["source_ref"] = *entry.SourceRef
		}
		if err := s.auditSvc.AuditLog(ctx, &tenantID, "system", "ledger.entry_created", "credit_entry", &entryID, metadata); err != nil {
			s.log.Warn("failed to write ledger audit log", zap.Error(err))
		}
	}

	return nil
}

func (s *Service) balanceTx(ctx context.Context, tx *gorm.DB, tenantID, entityID snowflake.ID) (int64, error) {
	var balance int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM credit_entries
		 WHERE tenant_id = ? AND entity_id = ?`,
		tenantID,
		entityID,
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) entryExistsTx(ctx context.Context, tx *gorm.DB, key string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM credit_entries WHERE idempotency_key = ?`,
		key,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func idempotencyKey(raw string) *string {
	key := strings.TrimSpace(raw)
	if key == "" {
		return nil
	}
	return &key
}

func normalizeCurrency(currency string) (string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "", ledgerdomain.ErrInvalidCurrency
	}
	return currency, nil
}

func toJSONMap(metadata map[string]any) datatypes.JSONMap {
	if metadata == nil {
		return nil
	}
	return datatypes.JSONMap(metadata)
}
