package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbuspay/nimbus/internal/access"
	"github.com/nimbuspay/nimbus/internal/audit"
	"github.com/nimbuspay/nimbus/internal/clock"
	"github.com/nimbuspay/nimbus/internal/config"
	"github.com/nimbuspay/nimbus/internal/journal"
	"github.com/nimbuspay/nimbus/internal/ledger"
	"github.com/nimbuspay/nimbus/internal/logger"
	"github.com/nimbuspay/nimbus/internal/migration"
	"github.com/nimbuspay/nimbus/internal/monitor"
	obsmetrics "github.com/nimbuspay/nimbus/internal/observability/metrics"
	"github.com/nimbuspay/nimbus/internal/notifier"
	"github.com/nimbuspay/nimbus/internal/payment"
	"github.com/nimbuspay/nimbus/internal/processor"
	"github.com/nimbuspay/nimbus/internal/server"
	"github.com/nimbuspay/nimbus/internal/subscription"
	"github.com/nimbuspay/nimbus/internal/webhook"
	"github.com/nimbuspay/nimbus/pkg/db"
	"go.uber.org/fx"
)

// The monolith: webhook intake, the ops API and the monitor loop in one
// process. Deployments that want the monitor isolated run apps/monitor
// alongside with a redis lock configured.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		obsmetrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		audit.Module,
		journal.Module,
		ledger.Module,
		payment.Module,
		processor.Module,
		access.Module,
		notifier.Module,
		subscription.Module,
		webhook.Module,
		monitor.Module,

		server.Module,
		fx.Invoke(monitor.Run),
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		nodeID = parsed
	}
	return snowflake.NewNode(nodeID)
}
