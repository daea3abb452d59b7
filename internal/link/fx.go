package link

import (
	"github.com/factline/factline/internal/link/repository"
	"github.com/factline/factline/internal/link/service"
	"go.uber.org/fx"
)

var Module = fx.Module("link.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
