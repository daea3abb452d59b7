package computed

import (
	"github.com/factline/factline/internal/query"
	"go.uber.org/fx"
)

var Module = fx.Module("computed",
	fx.Provide(
		fx.Annotate(
			NewSessionRollupAdapter,
			fx.As(new(Adapter)),
			fx.ResultTags(`group:"computed_adapters"`),
		),
		fx.Annotate(
			NewRegistry,
			fx.As(new(query.Router)),
		),
	),
)
