package segment

import (
	"github.com/factline/factline/internal/segment/repository"
	"github.com/factline/factline/internal/segment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("segment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
