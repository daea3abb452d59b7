package query

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Bucket widths. BucketNone returns a single unbucketed row set.
const (
	BucketNone  = "none"
	BucketHour  = "hour"
	BucketDay   = "day"
	BucketWeek  = "week"
	BucketMonth = "month"
)

// Aggregations. AggLast is the value at the greatest date per group;
// when several points share that date the surviving one is undefined.
const (
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
	AggCount = "count"
	AggLast  = "last"
)

// Reserved groupBy keys resolve to point columns; any other key is a
// dimension lookup.
var reservedGroupKeys = map[string]string{
	"entity_kind":    "entity_kind",
	"entity_id":      "entity_id",
	"data_source_id": "data_source_id",
	"granularity":    "granularity",
}

var groupKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

type Request struct {
	MetricKey       string         `json:"metricKey"`
	Start           *time.Time     `json:"start,omitempty"`
	End             *time.Time     `json:"end,omitempty"`
	Bucket          string         `json:"bucket,omitempty"`
	Agg             string         `json:"agg,omitempty"`
	EntityKind      string         `json:"entityKind,omitempty"`
	EntityID        string         `json:"entityId,omitempty"`
	EntityIDs       []string       `json:"entityIds,omitempty"`
	DataSourceID    string         `json:"dataSourceId,omitempty"`
	Granularity     string         `json:"granularity,omitempty"`
	Dimensions      map[string]any `json:"dimensions,omitempty"`
	GroupBy         []string       `json:"groupBy,omitempty"`
	GroupByEntityID bool           `json:"groupByEntityId,omitempty"`
}

type Row struct {
	Value    float64        `json:"value"`
	Bucket   string         `json:"bucket,omitempty"`
	EntityID string         `json:"entityId,omitempty"`
	Group    map[string]any `json:"group,omitempty"`
}

type Meta struct {
	MetricKey       string     `json:"metricKey"`
	Start           *time.Time `json:"start,omitempty"`
	End             *time.Time `json:"end,omitempty"`
	Bucket          string     `json:"bucket"`
	Agg             string     `json:"agg"`
	GroupBy         []string   `json:"groupBy,omitempty"`
	GroupByEntityID bool       `json:"groupByEntityId,omitempty"`
}

type Response struct {
	Data []Row `json:"data"`
	Meta Meta  `json:"meta"`
}

// BatchResult is one positional slot of a batch query. Exactly one of
// Response and Error is set.
type BatchResult struct {
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
}

var (
	ErrInvalidMetricKey = errors.New("invalid_metric_key")
	ErrInvalidAgg       = errors.New("invalid_agg")
	ErrInvalidBucket    = errors.New("invalid_bucket")
	ErrMissingRange     = errors.New("missing_range")
	ErrInvalidRange     = errors.New("invalid_range")
	ErrInvalidGroupBy   = errors.New("invalid_group_by")

	ErrInvalidDimensionKey = errors.New("invalid_dimension_key")

	// ErrMetricNotComputed reports that a metric routed to the computed
	// path matched no adapter. Distinct from a missing metric.
	ErrMetricNotComputed = errors.New("metric_not_computed")
	ErrUnsupportedAgg    = errors.New("unsupported_agg")
	ErrUnsupportedFilter = errors.New("unsupported_filter")
)

// Normalize validates the request and fills enum defaults. Validation
// happens entirely before any storage access.
func (r Request) Normalize() (Request, error) {
	r.MetricKey = strings.TrimSpace(r.MetricKey)
	if r.MetricKey == "" {
		return r, ErrInvalidMetricKey
	}

	r.Agg = strings.ToLower(strings.TrimSpace(r.Agg))
	if r.Agg == "" {
		r.Agg = AggSum
	}
	switch r.Agg {
	case AggSum, AggAvg, AggMin, AggMax, AggCount, AggLast:
	default:
		return r, ErrInvalidAgg
	}

	r.Bucket = strings.ToLower(strings.TrimSpace(r.Bucket))
	if r.Bucket == "" {
		r.Bucket = BucketNone
	}
	switch r.Bucket {
	case BucketNone, BucketHour, BucketDay, BucketWeek, BucketMonth:
	default:
		return r, ErrInvalidBucket
	}

	if r.Bucket != BucketNone && (r.Start == nil || r.End == nil) {
		return r, ErrMissingRange
	}
	if r.Start != nil && r.End != nil && !r.End.After(*r.Start) {
		return r, ErrInvalidRange
	}

	for _, key := range r.GroupBy {
		if !groupKeyPattern.MatchString(key) {
			return r, ErrInvalidGroupBy
		}
	}
	// Dimension keys become column expressions; a key outside the
	// whitelist pattern is rejected rather than dropped, so a bad filter
	// can never widen the result set.
	for key := range r.Dimensions {
		if !groupKeyPattern.MatchString(key) {
			return r, ErrInvalidDimensionKey
		}
	}

	r.EntityKind = strings.TrimSpace(r.EntityKind)
	r.EntityID = strings.TrimSpace(r.EntityID)
	r.DataSourceID = strings.TrimSpace(r.DataSourceID)
	r.Granularity = strings.TrimSpace(r.Granularity)

	return r, nil
}

func (r Request) meta() Meta {
	return Meta{
		MetricKey:       r.MetricKey,
		Start:           r.Start,
		End:             r.End,
		Bucket:          r.Bucket,
		Agg:             r.Agg,
		GroupBy:         r.GroupBy,
		GroupByEntityID: r.GroupByEntityID,
	}
}
