package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	catalogdomain "github.com/factline/factline/internal/catalog/domain"
	obsmetrics "github.com/factline/factline/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service interface {
	Query(ctx context.Context, req Request) (*Response, error)
	// BatchQuery evaluates every slot; one failing request never takes
	// down its siblings.
	BatchQuery(ctx context.Context, reqs []Request) []BatchResult
}

// Router forwards a query to the computed-metric path. Implemented by
// the computed adapter registry.
type Router interface {
	Query(ctx context.Context, req Request) (*Response, error)
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Catalog catalogdomain.Service
	Router  Router              `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	catalog catalogdomain.Service
	router  Router
	metrics *obsmetrics.Metrics
}

func New(p Params) Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("query.service"),
		catalog: p.Catalog,
		router:  p.Router,
		metrics: p.Metrics,
	}
}

func (s *service) Query(ctx context.Context, req Request) (*Response, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordQuery(ctx, req.MetricKey, req.Agg)
	}

	if s.router != nil {
		owner, err := s.catalog.ResolveOwner(ctx, req.MetricKey)
		if err != nil {
			return nil, err
		}
		if owner != "" {
			resp, err := s.router.Query(ctx, req)
			if err == nil {
				return resp, nil
			}
			// No adapter claimed the metric; fall through to stored
			// points.
			if !errors.Is(err, ErrMetricNotComputed) {
				return nil, err
			}
		}
	}

	return s.queryStore(ctx, req)
}

func (s *service) BatchQuery(ctx context.Context, reqs []Request) []BatchResult {
	results := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		resp, err := s.Query(ctx, req)
		if err != nil {
			results[i] = BatchResult{Error: err.Error()}
			continue
		}
		results[i] = BatchResult{Response: resp}
	}
	return results
}

func (s *service) queryStore(ctx context.Context, req Request) (*Response, error) {
	stmt := buildStatement(s.db.Dialector.Name(), req)

	var raw []map[string]any
	if err := s.db.WithContext(ctx).Raw(stmt.SQL, stmt.Args...).Scan(&raw).Error; err != nil {
		return nil, err
	}

	var rows []Row
	if stmt.ReduceLast {
		rows = reduceLast(raw, stmt, req)
	} else {
		rows = make([]Row, 0, len(raw))
		for _, record := range raw {
			// An unbucketed aggregate over zero points yields one NULL
			// row; drop it instead of reporting a zero value.
			if record[aliasValue] == nil {
				continue
			}
			rows = append(rows, rowFromRecord(record, stmt, req))
		}
	}

	return &Response{Data: rows, Meta: req.meta()}, nil
}

// reduceLast keeps the newest value per group. Raw records arrive in
// date order, so overwriting in place leaves the last write.
func reduceLast(raw []map[string]any, stmt statement, req Request) []Row {
	type slot struct {
		row Row
		key string
	}

	index := make(map[string]int)
	slots := make([]slot, 0)

	for _, record := range raw {
		row := rowFromRecord(record, stmt, req)
		key := row.Bucket + "\x1f" + row.EntityID
		for _, g := range stmt.Groups {
			key += "\x1f" + stringValue(row.Group[g.Key])
		}

		if pos, ok := index[key]; ok {
			slots[pos].row = row
			continue
		}
		index[key] = len(slots)
		slots = append(slots, slot{row: row, key: key})
	}

	sort.SliceStable(slots, func(i, j int) bool { return slots[i].key < slots[j].key })

	rows := make([]Row, 0, len(slots))
	for _, s := range slots {
		rows = append(rows, s.row)
	}
	return rows
}

func rowFromRecord(record map[string]any, stmt statement, req Request) Row {
	row := Row{Value: floatValue(record[aliasValue])}
	if req.Bucket != BucketNone {
		row.Bucket = stringValue(record[aliasBucket])
	}
	if req.GroupByEntityID {
		row.EntityID = stringValue(record[aliasEntity])
	}
	if len(stmt.Groups) > 0 {
		row.Group = make(map[string]any, len(stmt.Groups))
		for _, g := range stmt.Groups {
			row.Group[g.Key] = normalizeValue(record[g.Alias])
		}
	}
	return row
}

func normalizeValue(v any) any {
	if raw, ok := v.([]byte); ok {
		return string(raw)
	}
	return v
}

func stringValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []byte:
		return string(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(value, 10)
	default:
		return fmt.Sprintf("%v", value)
	}
}

func floatValue(v any) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case float32:
		return float64(value)
	case int64:
		return float64(value)
	case int:
		return float64(value)
	case []byte:
		parsed, _ := strconv.ParseFloat(string(value), 64)
		return parsed
	case string:
		parsed, _ := strconv.ParseFloat(value, 64)
		return parsed
	default:
		return 0
	}
}
