package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// PurchaseRequest records a paid top-up. IdempotencyKey, when set, pins
// the write to the originating event: a replay with the same key appends
// nothing and reports success.
type PurchaseRequest struct {
	TenantID       snowflake.ID
	EntityID       snowflake.ID
	Amount         int64
	Currency       string
	SourceRef      string
	IdempotencyKey string
	Metadata       map[string]any
}

type AllocateRequest struct {
	TenantID  snowflake.ID
	EntityID  snowflake.ID
	Amount    int64
	Currency  string
	SourceRef string
	Metadata  map[string]any
}

type ConsumeRequest struct {
	TenantID     snowflake.ID
	EntityID     snowflake.ID
	Amount       int64
	OperationRef string
	Metadata     map[string]any
}

type RefundRequest struct {
	TenantID       snowflake.ID
	EntityID       snowflake.ID
	Amount         int64
	SourceRef      string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]any
}

// Service applies credit movements under the non-negative balance invariant.
// Operations for the same tenant/entity are serialized against each other;
// operations for different keys proceed concurrently.
type Service interface {
	Purchase(ctx context.Context, req PurchaseRequest) error
	Allocate(ctx context.Context, req AllocateRequest) error
	Consume(ctx context.Context, req ConsumeRequest) error
	Refund(ctx context.Context, req RefundRequest) error
	Balance(ctx context.Context, tenantID, entityID snowflake.ID) (int64, error)
}

var (
	ErrInvalidTenant       = errors.New("invalid_tenant")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidSourceRef    = errors.New("invalid_source_ref")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrOverRefund          = errors.New("over_refund")
	ErrUnknownSourceRef    = errors.New("unknown_source_ref")
)
