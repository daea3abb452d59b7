package repository

import (
	"context"

	catalogdomain "github.com/factline/factline/internal/catalog/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() catalogdomain.Repository {
	return &repo{}
}

func (r *repo) UpsertMetric(ctx context.Context, db *gorm.DB, def *catalogdomain.MetricDefinition) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"label",
			"unit",
			"rollup_strategy",
			"default_granularity",
			"allowed_granularities",
			"owner",
			"dimensions_schema",
			"updated_at",
		}),
	}).Create(def).Error
}

func (r *repo) FindMetricByKey(ctx context.Context, db *gorm.DB, key string) (*catalogdomain.MetricDefinition, error) {
	var def catalogdomain.MetricDefinition
	err := db.WithContext(ctx).Raw(
		`SELECT key, label, unit, rollup_strategy, default_granularity, allowed_granularities,
		        owner, dimensions_schema, created_at, updated_at
		 FROM metric_definitions WHERE key = ?`,
		key,
	).Scan(&def).Error
	if err != nil {
		return nil, err
	}
	if def.Key == "" {
		return nil, nil
	}
	return &def, nil
}

func (r *repo) ListMetrics(ctx context.Context, db *gorm.DB) ([]catalogdomain.MetricDefinition, error) {
	var defs []catalogdomain.MetricDefinition
	err := db.WithContext(ctx).Raw(
		`SELECT key, label, unit, rollup_strategy, default_granularity, allowed_granularities,
		        owner, dimensions_schema, created_at, updated_at
		 FROM metric_definitions ORDER BY key ASC`,
	).Scan(&defs).Error
	if err != nil {
		return nil, err
	}
	return defs, nil
}

func (r *repo) UpsertDataSource(ctx context.Context, db *gorm.DB, ds *catalogdomain.DataSource) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "kind", "enabled", "updated_at"}),
	}).Create(ds).Error
}

func (r *repo) EnsureDataSource(ctx context.Context, db *gorm.DB, ds *catalogdomain.DataSource) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(ds).Error
}

func (r *repo) FindDataSourceByID(ctx context.Context, db *gorm.DB, id string) (*catalogdomain.DataSource, error) {
	var ds catalogdomain.DataSource
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, kind, enabled, created_at, updated_at
		 FROM data_sources WHERE id = ?`,
		id,
	).Scan(&ds).Error
	if err != nil {
		return nil, err
	}
	if ds.ID == "" {
		return nil, nil
	}
	return &ds, nil
}

func (r *repo) ListDataSources(ctx context.Context, db *gorm.DB) ([]catalogdomain.DataSource, error) {
	var sources []catalogdomain.DataSource
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, kind, enabled, created_at, updated_at
		 FROM data_sources ORDER BY id ASC`,
	).Scan(&sources).Error
	if err != nil {
		return nil, err
	}
	return sources, nil
}
