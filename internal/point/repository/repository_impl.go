package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/factline/factline/internal/fingerprint"
	pointdomain "github.com/factline/factline/internal/point/domain"
	pkgdb "github.com/factline/factline/pkg/db"
	"github.com/factline/factline/pkg/db/option"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 500

type repo struct{}

func Provide() pointdomain.Repository {
	return &repo{}
}

func (r *repo) UpsertPoints(ctx context.Context, db *gorm.DB, points []pointdomain.MetricPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "entity_kind"},
			{Name: "entity_id"},
			{Name: "metric_key"},
			{Name: "data_source_id"},
			{Name: "date"},
			{Name: "granularity"},
			{Name: "dimensions_hash"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"dimensions",
			"sync_run_id",
			"ingest_batch_id",
			"updated_at",
		}),
	}).CreateInBatches(points, upsertBatchSize).Error
	if err != nil {
		return 0, err
	}
	return len(points), nil
}

func (r *repo) DeleteRange(ctx context.Context, db *gorm.DB, dataSourceID, metricKey string, start, end time.Time) error {
	query := `DELETE FROM metric_points WHERE data_source_id = ? AND date >= ? AND date <= ?`
	args := []any{dataSourceID, start, end}
	if metricKey != "" {
		query += ` AND metric_key = ?`
		args = append(args, metricKey)
	}
	return db.WithContext(ctx).Exec(query, args...).Error
}

func (r *repo) DeleteBatchRange(ctx context.Context, db *gorm.DB, batchID snowflake.ID, start, end time.Time) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM metric_points WHERE ingest_batch_id = ? AND date >= ? AND date <= ?`,
		batchID,
		start,
		end,
	).Error
}

func (r *repo) CreateBatch(ctx context.Context, db *gorm.DB, batch *pointdomain.IngestBatch) error {
	return db.WithContext(ctx).Create(batch).Error
}

func (r *repo) LatestBatch(ctx context.Context, db *gorm.DB, dataSourceID, fileName string) (*pointdomain.IngestBatch, error) {
	var batch pointdomain.IngestBatch
	err := db.WithContext(ctx).Raw(
		`SELECT id, data_source_id, file_name, file_size, range_start, range_end, created_at
		 FROM ingest_batches
		 WHERE data_source_id = ? AND file_name = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		dataSourceID,
		fileName,
	).Scan(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) ListPoints(ctx context.Context, db *gorm.DB, filter pointdomain.PointFilter, opts ...option.QueryOption) ([]pointdomain.MetricPoint, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	query := applyPointFilter(db.WithContext(ctx).Model(&pointdomain.MetricPoint{}), filter)
	for _, opt := range opts {
		query = opt.Apply(query)
	}

	var points []pointdomain.MetricPoint
	if err := query.Order("date ASC, id ASC").Find(&points).Error; err != nil {
		return nil, err
	}
	return points, nil
}

func (r *repo) CountPoints(ctx context.Context, db *gorm.DB, filter pointdomain.PointFilter) (int64, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	var total int64
	query := applyPointFilter(db.WithContext(ctx).Model(&pointdomain.MetricPoint{}), filter)
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func applyPointFilter(query *gorm.DB, filter pointdomain.PointFilter) *gorm.DB {
	if filter.MetricKey != "" {
		query = query.Where("metric_key = ?", filter.MetricKey)
	}
	if filter.EntityKind != "" {
		query = query.Where("entity_kind = ?", filter.EntityKind)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if len(filter.EntityIDs) > 0 {
		query = query.Where("entity_id IN ?", filter.EntityIDs)
	}
	if filter.DataSourceID != "" {
		query = query.Where("data_source_id = ?", filter.DataSourceID)
	}
	if filter.Granularity != "" {
		query = query.Where("granularity = ?", filter.Granularity)
	}
	if filter.Start != nil {
		query = query.Where("date >= ?", *filter.Start)
	}
	if filter.End != nil {
		query = query.Where("date < ?", *filter.End)
	}

	// Keys were pattern-checked by filter.Validate; safe to splice into
	// column expressions.
	dialect := query.Dialector.Name()
	for key, value := range filter.Dimensions {
		expr := pkgdb.DimensionExpr(dialect, "dimensions", key)
		if value == nil {
			query = query.Where(expr + " IS NULL")
			continue
		}
		// postgres/mysql extraction yields text, sqlite yields the
		// native JSON value.
		if strings.EqualFold(dialect, "sqlite") {
			query = query.Where(expr+" = ?", value)
		} else {
			query = query.Where(expr+" = ?", fingerprint.ValueString(value))
		}
	}

	return query
}
