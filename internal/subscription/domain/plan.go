package domain

import (
	"errors"

	"github.com/nimbuspay/nimbus/internal/proration"
)

// Plan describes a purchasable tier. Rank orders plans so a change can be
// classified as upgrade or downgrade; PeriodAmount is what one cycle costs
// in minor units; CreditAllowance is granted to the ledger on activation.
type Plan struct {
	ID              string
	Rank            int
	PeriodAmount    int64
	Currency        string
	Cycle           proration.Cycle
	CreditAllowance int64
}

// Catalog resolves plan IDs. Implementations must be safe for concurrent use.
type Catalog interface {
	Plan(id string) (Plan, error)
}

var ErrUnknownPlan = errors.New("unknown_plan")

type staticCatalog struct {
	plans map[string]Plan
}

// NewStaticCatalog builds a catalog from a fixed plan list.
func NewStaticCatalog(plans ...Plan) Catalog {
	byID := make(map[string]Plan, len(plans))
	for _, p := range plans {
		byID[p.ID] = p
	}
	return &staticCatalog{plans: byID}
}

func (c *staticCatalog) Plan(id string) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

// DefaultCatalog returns the built-in tiers.
func DefaultCatalog() Catalog {
	return NewStaticCatalog(
		Plan{ID: "free", Rank: 0, PeriodAmount: 0, Currency: "USD", Cycle: proration.CycleMonthly, CreditAllowance: 100},
		Plan{ID: "starter", Rank: 1, PeriodAmount: 2900, Currency: "USD", Cycle: proration.CycleMonthly, CreditAllowance: 1000},
		Plan{ID: "pro", Rank: 2, PeriodAmount: 9900, Currency: "USD", Cycle: proration.CycleMonthly, CreditAllowance: 5000},
		Plan{ID: "enterprise", Rank: 3, PeriodAmount: 99000, Currency: "USD", Cycle: proration.CycleYearly, CreditAllowance: 100000},
	)
}
