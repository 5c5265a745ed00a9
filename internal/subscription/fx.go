package subscription

import (
	"github.com/nimbuspay/nimbus/internal/subscription/domain"
	"github.com/nimbuspay/nimbus/internal/subscription/repository"
	"github.com/nimbuspay/nimbus/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(domain.DefaultCatalog),
	fx.Provide(service.NewService),
)
