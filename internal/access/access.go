// Package access toggles per-tenant feature gates when a subscription
// falls behind or recovers. The billing engine only flips the flags;
// enforcement lives with the product surfaces reading them.
package access

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RestrictionSet names the gates to close. Zero value closes nothing.
type RestrictionSet struct {
	Dashboard bool
	API       bool
	Export    bool
}

// DefaultRestrictions is what past_due and suspended tenants get.
func DefaultRestrictions() RestrictionSet {
	return RestrictionSet{Dashboard: false, API: true, Export: true}
}

// Manager applies and lifts tenant restrictions.
type Manager interface {
	ApplyRestrictions(ctx context.Context, tenantID snowflake.ID, restrictions RestrictionSet) error
	LiftRestrictions(ctx context.Context, tenantID snowflake.ID) error
}

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type manager struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewManager(p Params) Manager {
	return &manager{
		db:  p.DB,
		log: p.Log.Named("access.manager"),
	}
}

func (m *manager) ApplyRestrictions(ctx context.Context, tenantID snowflake.ID, restrictions RestrictionSet) error {
	err := m.db.WithContext(ctx).Exec(
		`INSERT INTO tenant_restrictions (tenant_id, dashboard_access, api_access, export_access, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (tenant_id) DO UPDATE SET
			dashboard_access = excluded.dashboard_access,
			api_access = excluded.api_access,
			export_access = excluded.export_access,
			updated_at = CURRENT_TIMESTAMP`,
		tenantID,
		!restrictions.Dashboard,
		!restrictions.API,
		!restrictions.Export,
	).Error
	if err != nil {
		return err
	}
	m.log.Info("applied tenant restrictions", zap.Int64("tenant_id", int64(tenantID)))
	return nil
}

func (m *manager) LiftRestrictions(ctx context.Context, tenantID snowflake.ID) error {
	err := m.db.WithContext(ctx).Exec(
		`INSERT INTO tenant_restrictions (tenant_id, dashboard_access, api_access, export_access, updated_at)
		 VALUES (?, TRUE, TRUE, TRUE, CURRENT_TIMESTAMP)
		 ON CONFLICT (tenant_id) DO UPDATE SET
			dashboard_access = TRUE,
			api_access = TRUE,
			export_access = TRUE,
			updated_at = CURRENT_TIMESTAMP`,
		tenantID,
	).Error
	if err != nil {
		return err
	}
	m.log.Info("lifted tenant restrictions", zap.Int64("tenant_id", int64(tenantID)))
	return nil
}

var Module = fx.Module("access.manager",
	fx.Provide(NewManager),
)
