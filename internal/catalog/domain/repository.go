package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	UpsertMetric(ctx context.Context, db *gorm.DB, def *MetricDefinition) error
	FindMetricByKey(ctx context.Context, db *gorm.DB, key string) (*MetricDefinition, error)
	ListMetrics(ctx context.Context, db *gorm.DB) ([]MetricDefinition, error)

	UpsertDataSource(ctx context.Context, db *gorm.DB, ds *DataSource) error
	// EnsureDataSource inserts the data source when absent. An existing
	// row keeps its Enabled flag; the insert never downgrades it.
	EnsureDataSource(ctx context.Context, db *gorm.DB, ds *DataSource) error
	FindDataSourceByID(ctx context.Context, db *gorm.DB, id string) (*DataSource, error)
	ListDataSources(ctx context.Context, db *gorm.DB) ([]DataSource, error)
}
