package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbuspay/nimbus/internal/access"
	"github.com/nimbuspay/nimbus/internal/audit"
	"github.com/nimbuspay/nimbus/internal/clock"
	"github.com/nimbuspay/nimbus/internal/config"
	"github.com/nimbuspay/nimbus/internal/ledger"
	"github.com/nimbuspay/nimbus/internal/logger"
	"github.com/nimbuspay/nimbus/internal/monitor"
	obsmetrics "github.com/nimbuspay/nimbus/internal/observability/metrics"
	"github.com/nimbuspay/nimbus/internal/notifier"
	"github.com/nimbuspay/nimbus/internal/payment"
	"github.com/nimbuspay/nimbus/internal/processor"
	"github.com/nimbuspay/nimbus/internal/subscription"
	"github.com/nimbuspay/nimbus/pkg/db"
	"go.uber.org/fx"
)

// Standalone monitor process. Run with REDIS_ADDR set so concurrent
// instances (or a monolith also running the loop) coordinate via the
// scan lock instead of double-processing.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		obsmetrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		audit.Module,
		ledger.Module,
		payment.Module,
		processor.Module,
		access.Module,
		notifier.Module,
		subscription.Module,
		monitor.Module,

		fx.Invoke(monitor.Run),
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	nodeID := int64(2)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		nodeID = parsed
	}
	return snowflake.NewNode(nodeID)
}
