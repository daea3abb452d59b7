package domain

import (
	"context"
	"errors"
	"regexp"
	"time"
)

type Service interface {
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
}

type IngestRequest struct {
	Points     []PointInput          `json:"points"`
	DataSource *DataSourceDescriptor `json:"dataSource,omitempty"`
	// SyncRunID stamps provenance on every point of the request unless
	// the point carries its own.
	SyncRunID string `json:"syncRunId,omitempty"`
}

// PointInput is one incoming record. Value accepts a JSON number or a
// numeric string.
type PointInput struct {
	EntityKind   string         `json:"entityKind"`
	EntityID     string         `json:"entityId"`
	MetricKey    string         `json:"metricKey"`
	DataSourceID string         `json:"dataSourceId"`
	Date         time.Time      `json:"date"`
	Granularity  string         `json:"granularity,omitempty"`
	Value        any            `json:"value"`
	Dimensions   map[string]any `json:"dimensions,omitempty"`
	SyncRunID    string         `json:"syncRunId,omitempty"`
}

// DataSourceDescriptor optionally registers the producing source
// alongside the points. An existing source is never disabled by a
// descriptor.
type DataSourceDescriptor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Kind string `json:"kind,omitempty"`
}

type IngestResult struct {
	Received int `json:"received"`
	Written  int `json:"written"`
}

// PointFilter narrows point listings. A Dimensions entry with a nil
// value matches points where that dimension is absent or null.
type PointFilter struct {
	MetricKey    string
	EntityKind   string
	EntityID     string
	EntityIDs    []string
	DataSourceID string
	Granularity  string
	Start        *time.Time
	End          *time.Time
	Dimensions   map[string]any
}

var dimensionKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Validate rejects dimension keys outside the whitelist pattern. Keys
// become column expressions, so a bad key must fail the request rather
// than silently widen it.
func (f PointFilter) Validate() error {
	for key := range f.Dimensions {
		if !dimensionKeyPattern.MatchString(key) {
			return ErrInvalidDimensionKey
		}
	}
	return nil
}

var (
	ErrEmptyBatch          = errors.New("empty_batch")
	ErrInvalidEntityKind   = errors.New("invalid_entity_kind")
	ErrInvalidEntityID     = errors.New("invalid_entity_id")
	ErrInvalidMetricKey    = errors.New("invalid_metric_key")
	ErrInvalidDataSourceID = errors.New("invalid_data_source_id")
	ErrInvalidDate         = errors.New("invalid_date")
	ErrInvalidValue        = errors.New("invalid_value")

	ErrInvalidDimensionKey = errors.New("invalid_dimension_key")
)
