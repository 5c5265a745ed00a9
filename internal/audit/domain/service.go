package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AuditLog records who did what to which billing object.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	TenantID   *snowflake.ID     `gorm:"index"`
	Actor      string            `gorm:"type:text;not null"`
	Action     string            `gorm:"type:text;not null"`
	TargetType string            `gorm:"type:text;not null"`
	TargetID   *string           `gorm:"type:text"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

type Service interface {
	AuditLog(ctx context.Context, tenantID *snowflake.ID, actor string, action string, targetType string, targetID *string, metadata map[string]any) error
}
