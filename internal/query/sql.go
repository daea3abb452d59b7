package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/factline/factline/internal/fingerprint"
	pkgdb "github.com/factline/factline/pkg/db"
)

const (
	aliasValue  = "agg_value"
	aliasBucket = "bucket_label"
	aliasEntity = "group_entity_id"
)

type groupColumn struct {
	Key   string
	Alias string
}

type statement struct {
	SQL    string
	Args   []any
	Groups []groupColumn
	// Last aggregation cannot be pushed into SQL portably; the
	// statement then selects raw values ordered by date and the caller
	// reduces per group.
	ReduceLast bool
}

func buildStatement(dialect string, req Request) statement {
	stmt := statement{ReduceLast: req.Agg == AggLast}

	selects := []string{}
	groups := []string{}

	if req.Bucket != BucketNone {
		selects = append(selects, BucketExpr(dialect, req.Bucket)+" AS "+aliasBucket)
		groups = append(groups, aliasBucket)
	}
	if req.GroupByEntityID {
		selects = append(selects, "entity_id AS "+aliasEntity)
		groups = append(groups, aliasEntity)
	}
	for i, key := range req.GroupBy {
		alias := fmt.Sprintf("g%d", i)
		if column, ok := reservedGroupKeys[key]; ok {
			selects = append(selects, column+" AS "+alias)
		} else {
			selects = append(selects, pkgdb.DimensionExpr(dialect, "dimensions", key)+" AS "+alias)
		}
		groups = append(groups, alias)
		stmt.Groups = append(stmt.Groups, groupColumn{Key: key, Alias: alias})
	}

	if stmt.ReduceLast {
		selects = append(selects, "value AS "+aliasValue)
	} else {
		selects = append(selects, aggExpr(req.Agg)+" AS "+aliasValue)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selects, ", "))
	sb.WriteString(" FROM metric_points WHERE metric_key = ?")
	stmt.Args = append(stmt.Args, req.MetricKey)

	if req.EntityKind != "" {
		sb.WriteString(" AND entity_kind = ?")
		stmt.Args = append(stmt.Args, req.EntityKind)
	}
	if req.EntityID != "" {
		sb.WriteString(" AND entity_id = ?")
		stmt.Args = append(stmt.Args, req.EntityID)
	}
	if len(req.EntityIDs) > 0 {
		sb.WriteString(" AND entity_id IN (?" + strings.Repeat(", ?", len(req.EntityIDs)-1) + ")")
		for _, id := range req.EntityIDs {
			stmt.Args = append(stmt.Args, id)
		}
	}
	if req.DataSourceID != "" {
		sb.WriteString(" AND data_source_id = ?")
		stmt.Args = append(stmt.Args, req.DataSourceID)
	}
	if req.Granularity != "" {
		sb.WriteString(" AND granularity = ?")
		stmt.Args = append(stmt.Args, req.Granularity)
	}
	if req.Start != nil {
		sb.WriteString(" AND date >= ?")
		stmt.Args = append(stmt.Args, req.Start.UTC())
	}
	if req.End != nil {
		sb.WriteString(" AND date < ?")
		stmt.Args = append(stmt.Args, req.End.UTC())
	}

	// Dimension keys were pattern-checked by Normalize; they are safe to
	// splice into column expressions here.
	for _, key := range sortedDimensionKeys(req.Dimensions) {
		value := req.Dimensions[key]
		expr := pkgdb.DimensionExpr(dialect, "dimensions", key)
		if value == nil {
			sb.WriteString(" AND " + expr + " IS NULL")
			continue
		}
		sb.WriteString(" AND " + expr + " = ?")
		if strings.EqualFold(dialect, "sqlite") {
			stmt.Args = append(stmt.Args, value)
		} else {
			stmt.Args = append(stmt.Args, fingerprint.ValueString(value))
		}
	}

	if stmt.ReduceLast {
		sb.WriteString(" ORDER BY date ASC")
	} else {
		if len(groups) > 0 {
			sb.WriteString(" GROUP BY " + strings.Join(groups, ", "))
			sb.WriteString(" ORDER BY " + strings.Join(groups, ", "))
		}
	}

	stmt.SQL = sb.String()
	return stmt
}

func aggExpr(agg string) string {
	switch agg {
	case AggAvg:
		return "AVG(value)"
	case AggMin:
		return "MIN(value)"
	case AggMax:
		return "MAX(value)"
	case AggCount:
		return "COUNT(*)"
	default:
		return "SUM(value)"
	}
}

// BucketExpr returns the dialect expression producing the bucket label
// for a date column named "date". Shared with computed adapters so
// their labels line up with stored-point labels.
func BucketExpr(dialect, bucket string) string {
	switch dialect {
	case "postgres":
		switch bucket {
		case BucketHour:
			return `to_char(date_trunc('hour', date), 'YYYY-MM-DD"T"HH24:00:00"Z"')`
		case BucketWeek:
			return `to_char(date_trunc('week', date), 'YYYY-MM-DD')`
		case BucketMonth:
			return `to_char(date_trunc('month', date), 'YYYY-MM')`
		default:
			return `to_char(date_trunc('day', date), 'YYYY-MM-DD')`
		}
	case "mysql":
		switch bucket {
		case BucketHour:
			return `DATE_FORMAT(date, '%Y-%m-%dT%H:00:00Z')`
		case BucketWeek:
			return `DATE_FORMAT(DATE_SUB(date, INTERVAL WEEKDAY(date) DAY), '%Y-%m-%d')`
		case BucketMonth:
			return `DATE_FORMAT(date, '%Y-%m')`
		default:
			return `DATE_FORMAT(date, '%Y-%m-%d')`
		}
	default:
		switch bucket {
		case BucketHour:
			return `strftime('%Y-%m-%dT%H:00:00Z', date)`
		case BucketWeek:
			// Monday on or before the date, matching date_trunc('week').
			return `date(date, '-6 days', 'weekday 1')`
		case BucketMonth:
			return `strftime('%Y-%m', date)`
		default:
			return `strftime('%Y-%m-%d', date)`
		}
	}
}

// BucketRange maps a bucket label back to its half-open time window.
func BucketRange(bucket, label string) (time.Time, time.Time, error) {
	switch bucket {
	case BucketHour:
		start, err := time.Parse("2006-01-02T15:04:05Z", label)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad hour label %q: %w", label, err)
		}
		return start, start.Add(time.Hour), nil
	case BucketDay:
		start, err := time.Parse("2006-01-02", label)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad day label %q: %w", label, err)
		}
		return start, start.AddDate(0, 0, 1), nil
	case BucketWeek:
		start, err := time.Parse("2006-01-02", label)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad week label %q: %w", label, err)
		}
		return start, start.AddDate(0, 0, 7), nil
	case BucketMonth:
		start, err := time.Parse("2006-01", label)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad month label %q: %w", label, err)
		}
		return start, start.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("bucket %q has no label range", bucket)
	}
}

func sortedDimensionKeys(dims map[string]any) []string {
	if len(dims) == 0 {
		return nil
	}
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	// Stable SQL text for identical requests.
	sort.Strings(keys)
	return keys
}
