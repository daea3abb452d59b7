package drilldown

import "go.uber.org/fx"

var Module = fx.Module("drilldown.service",
	fx.Provide(New),
)
