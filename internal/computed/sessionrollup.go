package computed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/factline/factline/internal/query"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SessionRollup is the per-entity, per-day session summary the adapter
// aggregates over.
type SessionRollup struct {
	ID              int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	EntityKind      string    `json:"entity_kind" gorm:"type:text;not null;index"`
	EntityID        string    `json:"entity_id" gorm:"type:text;not null;index"`
	Date            time.Time `json:"date" gorm:"not null;index"`
	Channel         string    `json:"channel" gorm:"type:text"`
	Sessions        int64     `json:"sessions" gorm:"not null"`
	DurationSeconds float64   `json:"duration_seconds" gorm:"not null"`
	CreatedAt       time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SessionRollup) TableName() string { return "session_rollups" }

// Metric keys served by the adapter, mapped to rollup columns.
var sessionMetricColumns = map[string]string{
	"active_sessions":          "sessions",
	"session_duration_seconds": "duration_seconds",
}

var sessionGroupColumns = map[string]string{
	"entity_kind": "entity_kind",
	"entity_id":   "entity_id",
	"channel":     "channel",
}

type SessionRollupAdapter struct {
	db  *gorm.DB
	log *zap.Logger
}

type SessionRollupParams struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

func NewSessionRollupAdapter(p SessionRollupParams) *SessionRollupAdapter {
	return &SessionRollupAdapter{
		db:  p.DB,
		log: p.Log.Named("computed.sessionrollup"),
	}
}

func (a *SessionRollupAdapter) Handles(metricKey string) bool {
	_, ok := sessionMetricColumns[metricKey]
	return ok
}

func (a *SessionRollupAdapter) Query(ctx context.Context, req query.Request) (*query.Response, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}

	column, ok := sessionMetricColumns[req.MetricKey]
	if !ok {
		return nil, query.ErrMetricNotComputed
	}

	// Rollups have no notion of "the point written last".
	if req.Agg == query.AggLast {
		return nil, query.ErrUnsupportedAgg
	}
	if req.DataSourceID != "" || req.Granularity != "" || len(req.Dimensions) > 0 {
		return nil, query.ErrUnsupportedFilter
	}
	for _, key := range req.GroupBy {
		if _, ok := sessionGroupColumns[key]; !ok {
			return nil, query.ErrUnsupportedFilter
		}
	}

	dialect := a.db.Dialector.Name()

	selects := []string{}
	groups := []string{}
	aliases := []string{}

	if req.Bucket != query.BucketNone {
		selects = append(selects, query.BucketExpr(dialect, req.Bucket)+" AS bucket_label")
		groups = append(groups, "bucket_label")
	}
	if req.GroupByEntityID {
		selects = append(selects, "entity_id AS group_entity_id")
		groups = append(groups, "group_entity_id")
	}
	for i, key := range req.GroupBy {
		alias := fmt.Sprintf("g%d", i)
		selects = append(selects, sessionGroupColumns[key]+" AS "+alias)
		groups = append(groups, alias)
		aliases = append(aliases, alias)
	}
	selects = append(selects, sessionAggExpr(req.Agg, column)+" AS agg_value")

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selects, ", "))
	sb.WriteString(" FROM session_rollups WHERE 1 = 1")

	args := []any{}
	if req.EntityKind != "" {
		sb.WriteString(" AND entity_kind = ?")
		args = append(args, req.EntityKind)
	}
	if req.EntityID != "" {
		sb.WriteString(" AND entity_id = ?")
		args = append(args, req.EntityID)
	}
	if len(req.EntityIDs) > 0 {
		sb.WriteString(" AND entity_id IN (?" + strings.Repeat(", ?", len(req.EntityIDs)-1) + ")")
		for _, id := range req.EntityIDs {
			args = append(args, id)
		}
	}
	if req.Start != nil {
		sb.WriteString(" AND date >= ?")
		args = append(args, req.Start.UTC())
	}
	if req.End != nil {
		sb.WriteString(" AND date < ?")
		args = append(args, req.End.UTC())
	}

	if len(groups) > 0 {
		sb.WriteString(" GROUP BY " + strings.Join(groups, ", "))
		sb.WriteString(" ORDER BY " + strings.Join(groups, ", "))
	}

	var raw []map[string]any
	if err := a.db.WithContext(ctx).Raw(sb.String(), args...).Scan(&raw).Error; err != nil {
		return nil, err
	}

	rows := make([]query.Row, 0, len(raw))
	for _, record := range raw {
		if record["agg_value"] == nil {
			continue
		}
		row := query.Row{Value: toFloat(record["agg_value"])}
		if req.Bucket != query.BucketNone {
			row.Bucket = toString(record["bucket_label"])
		}
		if req.GroupByEntityID {
			row.EntityID = toString(record["group_entity_id"])
		}
		if len(aliases) > 0 {
			row.Group = make(map[string]any, len(aliases))
			for i, alias := range aliases {
				row.Group[req.GroupBy[i]] = toString(record[alias])
			}
		}
		rows = append(rows, row)
	}

	return &query.Response{
		Data: rows,
		Meta: query.Meta{
			MetricKey:       req.MetricKey,
			Start:           req.Start,
			End:             req.End,
			Bucket:          req.Bucket,
			Agg:             req.Agg,
			GroupBy:         req.GroupBy,
			GroupByEntityID: req.GroupByEntityID,
		},
	}, nil
}

func sessionAggExpr(agg, column string) string {
	switch agg {
	case query.AggAvg:
		return "AVG(" + column + ")"
	case query.AggMin:
		return "MIN(" + column + ")"
	case query.AggMax:
		return "MAX(" + column + ")"
	case query.AggCount:
		return "COUNT(*)"
	default:
		return "SUM(" + column + ")"
	}
}

func toFloat(v any) float64 {
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

func toString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []byte:
		return string(value)
	default:
		return fmt.Sprintf("%v", value)
	}
}
