package point

import (
	"github.com/factline/factline/internal/point/repository"
	"github.com/factline/factline/internal/point/service"
	"go.uber.org/fx"
)

var Module = fx.Module("point.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
