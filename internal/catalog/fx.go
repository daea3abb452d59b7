package catalog

import (
	"context"

	catalogdomain "github.com/factline/factline/internal/catalog/domain"
	"github.com/factline/factline/internal/catalog/repository"
	"github.com/factline/factline/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(seed),
)

// seed pushes the bootstrap registry into storage on startup.
func seed(lc fx.Lifecycle, svc catalogdomain.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.Reload(ctx)
		},
	})
}
