package drilldown

import (
	"context"
	"sort"
	"time"

	"github.com/factline/factline/internal/query"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	pointdomain "github.com/factline/factline/internal/point/domain"
	"github.com/factline/factline/pkg/db/option"
	"github.com/factline/factline/pkg/db/pagination"
)

type Service interface {
	Resolve(ctx context.Context, req Request) (*Response, error)
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  pointdomain.Repository
	Query query.Service
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  pointdomain.Repository
	query query.Service
}

func New(p Params) Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("drilldown.service"),
		repo:  p.Repo,
		query: p.Query,
	}
}

func (s *service) Resolve(ctx context.Context, req Request) (*Response, error) {
	base, err := req.Query.Normalize()
	if err != nil {
		return nil, err
	}

	filter, satisfiable, err := buildFilter(base, req.Row)
	if err != nil {
		return nil, err
	}

	page := req.Page.Normalize()
	if !satisfiable {
		// The row context contradicts the base filters; an empty page
		// is the honest answer.
		return &Response{
			Points:     []PointView{},
			Pagination: envelope(page, 0),
		}, nil
	}

	total, err := s.repo.CountPoints(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	points, err := s.repo.ListPoints(ctx, s.db, filter,
		option.WithLimitOffset(page.PageSize, page.Offset()))
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Points:     toViews(points),
		Pagination: envelope(page, total),
	}

	if req.IncludeContributors {
		contributors, err := s.contributors(ctx, base, filter)
		if err != nil {
			return nil, err
		}
		resp.Contributors = contributors
	}

	return resp, nil
}

// buildFilter intersects the base query filters with the row context.
// The second return value is false when the two contradict each other.
func buildFilter(base query.Request, row *RowContext) (pointdomain.PointFilter, bool, error) {
	filter := pointdomain.PointFilter{
		MetricKey:    base.MetricKey,
		EntityKind:   base.EntityKind,
		EntityID:     base.EntityID,
		EntityIDs:    base.EntityIDs,
		DataSourceID: base.DataSourceID,
		Granularity:  base.Granularity,
		Start:        base.Start,
		End:          base.End,
	}
	if len(base.Dimensions) > 0 {
		filter.Dimensions = make(map[string]any, len(base.Dimensions))
		for k, v := range base.Dimensions {
			filter.Dimensions[k] = v
		}
	}

	if row == nil {
		return filter, true, nil
	}

	if row.Bucket != "" {
		if base.Bucket == query.BucketNone {
			return filter, false, ErrBucketWithoutWidth
		}
		start, end, err := query.BucketRange(base.Bucket, row.Bucket)
		if err != nil {
			return filter, false, err
		}
		filter.Start = laterOf(filter.Start, start)
		filter.End = earlierOf(filter.End, end)
		if !filter.End.After(*filter.Start) {
			return filter, false, nil
		}
	}

	if row.EntityID != "" {
		if filter.EntityID != "" && filter.EntityID != row.EntityID {
			return filter, false, nil
		}
		filter.EntityID = row.EntityID
	}

	for key, value := range row.Group {
		switch key {
		case "entity_kind":
			str := asString(value)
			if filter.EntityKind != "" && filter.EntityKind != str {
				return filter, false, nil
			}
			filter.EntityKind = str
		case "entity_id":
			str := asString(value)
			if filter.EntityID != "" && filter.EntityID != str {
				return filter, false, nil
			}
			filter.EntityID = str
		case "data_source_id":
			str := asString(value)
			if filter.DataSourceID != "" && filter.DataSourceID != str {
				return filter, false, nil
			}
			filter.DataSourceID = str
		case "granularity":
			str := asString(value)
			if filter.Granularity != "" && filter.Granularity != str {
				return filter, false, nil
			}
			filter.Granularity = str
		default:
			if filter.Dimensions == nil {
				filter.Dimensions = make(map[string]any)
			}
			filter.Dimensions[key] = value
		}
	}

	return filter, true, nil
}

func (s *service) contributors(ctx context.Context, base query.Request, filter pointdomain.PointFilter) ([]Contributor, error) {
	req := query.Request{
		MetricKey:       filter.MetricKey,
		Start:           filter.Start,
		End:             filter.End,
		EntityKind:      filter.EntityKind,
		EntityID:        filter.EntityID,
		EntityIDs:       filter.EntityIDs,
		DataSourceID:    filter.DataSourceID,
		Granularity:     filter.Granularity,
		Dimensions:      filter.Dimensions,
		Agg:             query.AggSum,
		GroupByEntityID: true,
	}

	resp, err := s.query.Query(ctx, req)
	if err != nil {
		return nil, err
	}

	var total float64
	for _, row := range resp.Data {
		total += row.Value
	}

	contributors := make([]Contributor, 0, len(resp.Data))
	for _, row := range resp.Data {
		c := Contributor{EntityID: row.EntityID, Value: row.Value}
		if total != 0 {
			c.Share = row.Value / total
		}
		contributors = append(contributors, c)
	}

	sort.SliceStable(contributors, func(i, j int) bool {
		return contributors[i].Value > contributors[j].Value
	})

	return contributors, nil
}

func toViews(points []pointdomain.MetricPoint) []PointView {
	views := make([]PointView, 0, len(points))
	for i := range points {
		p := &points[i]
		view := PointView{
			ID:           p.ID.String(),
			EntityKind:   p.EntityKind,
			EntityID:     p.EntityID,
			MetricKey:    p.MetricKey,
			DataSourceID: p.DataSourceID,
			Date:         p.Date,
			Granularity:  p.Granularity,
			Value:        p.Value,
			Dimensions:   map[string]any(p.Dimensions),
			SyncRunID:    p.SyncRunID,
		}
		if p.IngestBatchID != 0 {
			view.IngestBatchID = p.IngestBatchID.String()
		}
		views = append(views, view)
	}
	return views
}

func laterOf(current *time.Time, candidate time.Time) *time.Time {
	if current == nil || candidate.After(*current) {
		return &candidate
	}
	return current
}

func earlierOf(current *time.Time, candidate time.Time) *time.Time {
	if current == nil || candidate.Before(*current) {
		return &candidate
	}
	return current
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return ""
}

func envelope(page pagination.Page, total int64) pagination.Envelope {
	return pagination.Envelope{
		Page:     page.Page,
		PageSize: page.PageSize,
		Total:    total,
	}
}
