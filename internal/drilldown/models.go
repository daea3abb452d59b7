package drilldown

import (
	"errors"
	"time"

	"github.com/factline/factline/internal/query"
	"github.com/factline/factline/pkg/db/pagination"
)

// Request drills into the raw points behind an aggregated row. The
// base query supplies the outer filters; RowContext narrows them to
// one result row and never widens the window.
type Request struct {
	Query               query.Request   `json:"query"`
	Row                 *RowContext     `json:"row,omitempty"`
	Page                pagination.Page `json:"pagination"`
	IncludeContributors bool            `json:"includeContributors,omitempty"`
}

// RowContext identifies one row of a previous query response.
type RowContext struct {
	Bucket   string         `json:"bucket,omitempty"`
	EntityID string         `json:"entityId,omitempty"`
	Group    map[string]any `json:"group,omitempty"`
}

type PointView struct {
	ID            string         `json:"id"`
	EntityKind    string         `json:"entityKind"`
	EntityID      string         `json:"entityId"`
	MetricKey     string         `json:"metricKey"`
	DataSourceID  string         `json:"dataSourceId"`
	Date          time.Time      `json:"date"`
	Granularity   string         `json:"granularity,omitempty"`
	Value         float64        `json:"value"`
	Dimensions    map[string]any `json:"dimensions,omitempty"`
	SyncRunID     string         `json:"syncRunId,omitempty"`
	IngestBatchID string         `json:"ingestBatchId,omitempty"`
}

// Contributor ranks one entity by its share of the drilled row total.
type Contributor struct {
	EntityID string  `json:"entityId"`
	Value    float64 `json:"value"`
	Share    float64 `json:"share"`
}

type Response struct {
	Points       []PointView         `json:"points"`
	Pagination   pagination.Envelope `json:"pagination"`
	Contributors []Contributor       `json:"contributors,omitempty"`
}

var (
	// ErrBucketWithoutWidth rejects a row bucket label when the base
	// query is unbucketed; the label cannot be mapped to a window.
	ErrBucketWithoutWidth = errors.New("bucket_context_without_bucket")
)
