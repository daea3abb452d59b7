// Package computed serves metrics whose values are derived from
// auxiliary tables instead of stored points. The query engine routes a
// metric here when its catalog entry carries an owner tag.
package computed

import (
	"context"

	"github.com/factline/factline/internal/query"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Adapter answers queries for the metric keys it claims. Adapters
// re-validate the request against their own capabilities.
type Adapter interface {
	Handles(metricKey string) bool
	Query(ctx context.Context, req query.Request) (*query.Response, error)
}

type Registry struct {
	log      *zap.Logger
	adapters []Adapter
}

type RegistryParams struct {
	fx.In

	Log      *zap.Logger
	Adapters []Adapter `group:"computed_adapters"`
}

func NewRegistry(p RegistryParams) *Registry {
	return &Registry{
		log:      p.Log.Named("computed.registry"),
		adapters: p.Adapters,
	}
}

// Query dispatches to the first adapter claiming the metric. No claim
// is not a missing metric; callers fall back to stored points.
func (r *Registry) Query(ctx context.Context, req query.Request) (*query.Response, error) {
	for _, adapter := range r.adapters {
		if adapter.Handles(req.MetricKey) {
			return adapter.Query(ctx, req)
		}
	}
	return nil, query.ErrMetricNotComputed
}
