package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/factline/factline/pkg/db/option"
	"gorm.io/gorm"
)

type Repository interface {
	// UpsertPoints writes the batch; rows with an existing identity key
	// are replaced. Returns the number of points written.
	UpsertPoints(ctx context.Context, db *gorm.DB, points []MetricPoint) (int, error)
	DeleteRange(ctx context.Context, db *gorm.DB, dataSourceID, metricKey string, start, end time.Time) error
	// DeleteBatchRange removes only points written by the given batch
	// inside [start, end].
	DeleteBatchRange(ctx context.Context, db *gorm.DB, batchID snowflake.ID, start, end time.Time) error

	CreateBatch(ctx context.Context, db *gorm.DB, batch *IngestBatch) error
	LatestBatch(ctx context.Context, db *gorm.DB, dataSourceID, fileName string) (*IngestBatch, error)

	ListPoints(ctx context.Context, db *gorm.DB, filter PointFilter, opts ...option.QueryOption) ([]MetricPoint, error)
	CountPoints(ctx context.Context, db *gorm.DB, filter PointFilter) (int64, error)
}
