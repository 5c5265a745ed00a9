package server_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/nimbuspay/nimbus/internal/access"
	"github.com/nimbuspay/nimbus/internal/clock"
	"github.com/nimbuspay/nimbus/internal/config"
	journalservice "github.com/nimbuspay/nimbus/internal/journal/service"
	ledgerdomain "github.com/nimbuspay/nimbus/internal/ledger/domain"
	ledgerservice "github.com/nimbuspay/nimbus/internal/ledger/service"
	"github.com/nimbuspay/nimbus/internal/notifier"
	paymentrepo "github.com/nimbuspay/nimbus/internal/payment/repository"
	"github.com/nimbuspay/nimbus/internal/processor"
	"github.com/nimbuspay/nimbus/internal/server"
	subscriptiondomain "github.com/nimbuspay/nimbus/internal/subscription/domain"
	subscriptionrepo "github.com/nimbuspay/nimbus/internal/subscription/repository"
	subscriptionservice "github.com/nimbuspay/nimbus/internal/subscription/service"
	webhookservice "github.com/nimbuspay/nimbus/internal/webhook/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "whsec_server_test"

type fixture struct {
	srv             *server.Server
	db              *gorm.DB
	clk             *clock.FakeClock
	node            *snowflake.Node
	ledgerSvc       ledgerdomain.Service
	subscriptionSvc subscriptiondomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC))

	node, err := snowflake.NewNode(60)
	require.NoError(t, err)

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
	journalSvc := journalservice.NewService(journalservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	subscriptionRepo := subscriptionrepo.Provide()
	paymentRepo := paymentrepo.Provide()
	subscriptionSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Repo:        subscriptionRepo,
		Catalog:     subscriptiondomain.DefaultCatalog(),
		PaymentRepo: paymentRepo,
		LedgerSvc:   ledgerSvc,
		Processor:   processor.NoOp{},
		Policy:      config.NewStaticBillingPolicyHolder(config.DefaultBillingPolicy()),
	})
	dispatcher := webhookservice.NewService(webhookservice.Params{
		DB:               db,
		Log:              zap.NewNop(),
		Cfg:              config.Config{WebhookSigningSecret: testSecret},
		Clock:            clk,
		GenID:            node,
		Journal:          journalSvc,
		LedgerSvc:        ledgerSvc,
		SubscriptionSvc:  subscriptionSvc,
		SubscriptionRepo: subscriptionRepo,
		PaymentRepo:      paymentRepo,
		Access:           access.NewManager(access.Params{DB: db, Log: zap.NewNop()}),
		Notifier:         notifier.NoOp{},
	})

	engine := server.NewEngine(zap.NewNop())
	srv := server.NewServer(server.ServerParams{
		Gin:             engine,
		Cfg:             config.Config{},
		Log:             zap.NewNop(),
		DB:              db,
		Dispatcher:      dispatcher,
		SubscriptionSvc: subscriptionSvc,
		LedgerSvc:       ledgerSvc,
		PaymentRepo:     paymentRepo,
	})

	return &fixture{
		srv:             srv,
		db:              db,
		clk:             clk,
		node:            node,
		ledgerSvc:       ledgerSvc,
		subscriptionSvc: subscriptionSvc,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(w, req)
	return w
}

func (f *fixture) seedActive(t *testing.T) snowflake.ID {
	t.Helper()

	tenantID := f.node.Generate()
	periodStart := f.clk.Now().Add(-10 * 24 * time.Hour)
	periodEnd := f.clk.Now().Add(20 * 24 * time.Hour)
	_, err := f.subscriptionSvc.Create(context.Background(), subscriptiondomain.CreateRequest{
		TenantID:           tenantID,
		PlanID:             "starter",
		Status:             subscriptiondomain.StatusActive,
		CurrentPeriodStart: &periodStart,
		CurrentPeriodEnd:   &periodEnd,
	})
	require.NoError(t, err)
	return tenantID
}

func signPayload(payload []byte, secret string, timestamp int64) string {
	signed := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhookEndpoint_AcceptsSignedEvent(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()

	payload, err := json.Marshal(map[string]any{
		"id":      "evt_http_1",
		"type":    "checkout.session.completed",
		"created": f.clk.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":           "cs_http_1",
				"amount_total": 5000,
				"currency":     "usd",
				"metadata": map[string]any{
					"tenant_id": tenantID.String(),
					"credits":   "500",
				},
			},
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set(server.SignatureHeader, signPayload(payload, testSecret, f.clk.Now().Unix()))
	w := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "processed")

	balance, err := f.ledgerSvc.Balance(context.Background(), tenantID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
}

func TestWebhookEndpoint_RejectsBadSignature(t *testing.T) {
	f := newFixture(t)

	payload := []byte(`{"id":"evt_bad","type":"invoice.paid","data":{"object":{}}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set(server.SignatureHeader, signPayload(payload, "wrong_secret", f.clk.Now().Unix()))
	w := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestGetSubscription(t *testing.T) {
	f := newFixture(t)
	tenantID := f.seedActive(t)

	w := f.do(t, http.MethodGet, "/v1/tenants/"+tenantID.String()+"/subscription", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		TenantID string `json:"tenant_id"`
		PlanID   string `json:"plan_id"`
		Status   string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, tenantID.String(), resp.TenantID)
	assert.Equal(t, "starter", resp.PlanID)
	assert.Equal(t, "active", resp.Status)
}

func TestGetSubscription_UnknownTenant(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/tenants/123456789/subscription", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
}

func TestConsumeCredits_InsufficientBalanceConflicts(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()

	require.NoError(t, f.ledgerSvc.Purchase(context.Background(), ledgerdomain.PurchaseRequest{
		TenantID:  tenantID,
		Amount:    100,
		Currency:  "usd",
		SourceRef: "cs_seed",
	}))

	w := f.do(t, http.MethodPost, "/v1/tenants/"+tenantID.String()+"/credits/consume",
		map[string]any{"amount": 250}, nil)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/v1/tenants/"+tenantID.String()+"/credits/consume",
		map[string]any{"amount": 60}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(40), resp.Balance)
}

func TestChangePlan_EarlyDowngradeReportsEligibleAt(t *testing.T) {
	f := newFixture(t)
	tenantID := f.seedActive(t)

	w := f.do(t, http.MethodPost, "/v1/tenants/"+tenantID.String()+"/subscription/plan",
		map[string]any{"plan_id": "free"}, nil)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	var resp struct {
		Error struct {
			Type       string     `json:"type"`
			EligibleAt *time.Time `json:"eligible_at"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "downgrade_not_yet_eligible", resp.Error.Type)
	require.NotNil(t, resp.Error.EligibleAt)
	assert.Equal(t, f.clk.Now().Add(13*24*time.Hour), resp.Error.EligibleAt.UTC())
}

func TestChangePlan_UpgradeAppliesImmediately(t *testing.T) {
	f := newFixture(t)
	tenantID := f.seedActive(t)

	w := f.do(t, http.MethodPost, "/v1/tenants/"+tenantID.String()+"/subscription/plan",
		map[string]any{"plan_id": "pro"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "applied")

	sub, err := f.subscriptionSvc.GetByTenant(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, "pro", sub.PlanID)
}

func TestCancelSubscription(t *testing.T) {
	f := newFixture(t)
	tenantID := f.seedActive(t)

	w := f.do(t, http.MethodPost, "/v1/tenants/"+tenantID.String()+"/subscription/cancel", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	sub, err := f.subscriptionSvc.GetByTenant(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCanceled, sub.Status)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
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
		`CREATE TABLE credit_entries (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			entity_id BIGINT NOT NULL DEFAULT 0,
			entry_type TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			source_ref TEXT,
			idempotency_key TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_credit_entries_idempotency_key ON credit_entries(idempotency_key)`,
		`CREATE TABLE subscriptions (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			plan_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_period_start DATETIME,
			current_period_end DATETIME,
			trial_end DATETIME,
			external_subscription_ref TEXT,
			external_customer_ref TEXT,
			has_ever_upgraded BOOLEAN NOT NULL DEFAULT FALSE,
			trial_manually_disabled BOOLEAN NOT NULL DEFAULT FALSE,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_subscriptions_tenant ON subscriptions(tenant_id)`,
		`CREATE TABLE pending_plan_changes (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			subscription_id BIGINT NOT NULL,
			target_plan_id TEXT NOT NULL,
			effective_at DATETIME NOT NULL,
			applied_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE payment_records (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			subscription_id BIGINT,
			record_type TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			external_ref TEXT,
			metadata TEXT,
			disputed_at DATETIME,
			dispute_status TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE reconciliation_tasks (
			id BIGINT PRIMARY KEY,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			reason TEXT NOT NULL,
			payload TEXT,
			resolved_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE tenant_restrictions (
			tenant_id BIGINT PRIMARY KEY,
			dashboard_access BOOLEAN NOT NULL DEFAULT TRUE,
			api_access BOOLEAN NOT NULL DEFAULT TRUE,
			export_access BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
