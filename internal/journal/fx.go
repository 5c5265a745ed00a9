package journal

import (
	"github.com/nimbuspay/nimbus/internal/journal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("journal.service",
	fx.Provide(service.NewService),
)
