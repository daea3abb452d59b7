package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	CreateMetric(ctx context.Context, req MetricRequest) (*MetricResponse, error)
	GetMetric(ctx context.Context, key string) (*MetricResponse, error)
	ListMetrics(ctx context.Context) ([]MetricResponse, error)
	// ResolveOwner returns the owner tag of the metric, or "" when the
	// metric has no catalog entry.
	ResolveOwner(ctx context.Context, key string) (string, error)

	CreateDataSource(ctx context.Context, req DataSourceRequest) (*DataSourceResponse, error)
	GetDataSource(ctx context.Context, id string) (*DataSourceResponse, error)
	ListDataSources(ctx context.Context) ([]DataSourceResponse, error)

	// Reload re-seeds the catalog from the bootstrap registry file.
	Reload(ctx context.Context) error
}

type MetricRequest struct {
	Key                  string         `json:"key"`
	Label                string         `json:"label"`
	Unit                 string         `json:"unit"`
	RollupStrategy       string         `json:"rollup_strategy"`
	DefaultGranularity   string         `json:"default_granularity"`
	AllowedGranularities []string       `json:"allowed_granularities"`
	Owner                string         `json:"owner"`
	DimensionsSchema     map[string]any `json:"dimensions_schema"`
}

type MetricResponse struct {
	Key                  string         `json:"key"`
	Label                string         `json:"label"`
	Unit                 string         `json:"unit"`
	RollupStrategy       string         `json:"rollup_strategy"`
	DefaultGranularity   string         `json:"default_granularity"`
	AllowedGranularities []string       `json:"allowed_granularities"`
	Owner                string         `json:"owner,omitempty"`
	DimensionsSchema     map[string]any `json:"dimensions_schema,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

type DataSourceRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Enabled *bool  `json:"enabled"`
}

type DataSourceResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrInvalidMetricKey    = errors.New("invalid_metric_key")
	ErrInvalidLabel        = errors.New("invalid_label")
	ErrInvalidDataSourceID = errors.New("invalid_data_source_id")
	ErrMetricNotFound      = errors.New("metric_not_found")
	ErrDataSourceNotFound  = errors.New("data_source_not_found")
)
