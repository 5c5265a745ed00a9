// Package processor is the outbound client for the payment processor API.
// Calls carry a bounded timeout so a slow processor cannot stall billing
// transactions.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nimbuspay/nimbus/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	// ErrExternalDependencyTimeout marks a deadline hit talking to the
	// processor. Retryable.
	ErrExternalDependencyTimeout = errors.New("external_dependency_timeout")
	// ErrExternalDependencyError marks a non-2xx or transport failure.
	ErrExternalDependencyError = errors.New("external_dependency_error")
)

// Client performs subscription and refund operations at the processor.
type Client interface {
	CancelSubscription(ctx context.Context, externalRef string) error
	UpdateSubscription(ctx context.Context, externalRef, newPlanRef string) error
	Refund(ctx context.Context, chargeRef string, amount int64) error
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(p Params) Client {
	return &httpClient{
		baseURL: p.Cfg.ProcessorAPIBaseURL,
		apiKey:  p.Cfg.ProcessorAPIKey,
		http:    &http.Client{Timeout: p.Cfg.ProcessorTimeout},
		log:     p.Log.Named("processor.client"),
	}
}

func (c *httpClient) CancelSubscription(ctx context.Context, externalRef string) error {
	return c.post(ctx, fmt.Sprintf("/v1/subscriptions/%s/cancel", externalRef), nil)
}

func (c *httpClient) UpdateSubscription(ctx context.Context, externalRef, newPlanRef string) error {
	return c.post(ctx, fmt.Sprintf("/v1/subscriptions/%s", externalRef), map[string]any{
		"plan": newPlanRef,
	})
}

func (c *httpClient) Refund(ctx context.Context, chargeRef string, amount int64) error {
	return c.post(ctx, "/v1/refunds", map[string]any{
		"charge": chargeRef,
		"amount": amount,
	})
}

func (c *httpClient) post(ctx context.Context, path string, body map[string]any) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrExternalDependencyTimeout
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrExternalDependencyTimeout
		}
		return errors.Join(ErrExternalDependencyError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("processor call failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%w: status %d", ErrExternalDependencyError, resp.StatusCode)
	}
	return nil
}

// NoOp satisfies Client without any remote calls. Used by tests and by
// deployments where the processor is driven entirely by webhooks.
type NoOp struct{}

func (NoOp) CancelSubscription(ctx context.Context, externalRef string) error { return nil }
func (NoOp) UpdateSubscription(ctx context.Context, externalRef, newPlanRef string) error {
	return nil
}
func (NoOp) Refund(ctx context.Context, chargeRef string, amount int64) error { return nil }

var Module = fx.Module("processor.client",
	fx.Provide(NewClient),
)
