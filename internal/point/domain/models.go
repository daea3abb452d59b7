package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// MetricPoint is one recorded fact. Identity is the seven-part key
// (entity_kind, entity_id, metric_key, data_source_id, date,
// granularity, dimensions_hash); re-ingesting the same key replaces
// value, dimensions and provenance.
type MetricPoint struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	EntityKind     string            `json:"entity_kind" gorm:"type:text;not null;index:ux_metric_points_identity,unique,priority:1"`
	EntityID       string            `json:"entity_id" gorm:"type:text;not null;index:ux_metric_points_identity,unique,priority:2"`
	MetricKey      string            `json:"metric_key" gorm:"type:text;not null;index:ux_metric_points_identity,unique,priority:3"`
	DataSourceID   string            `json:"data_source_id" gorm:"type:text;not null;index:ux_metric_points_identity,unique,priority:4"`
	Date           time.Time         `json:"date" gorm:"not null;index:ux_metric_points_identity,unique,priority:5"`
	Granularity    string            `json:"granularity" gorm:"type:text;not null;default:'';index:ux_metric_points_identity,unique,priority:6"`
	DimensionsHash string            `json:"dimensions_hash" gorm:"type:text;not null;index:ux_metric_points_identity,unique,priority:7"`
	Value          float64           `json:"value" gorm:"not null"`
	Dimensions     datatypes.JSONMap `json:"dimensions" gorm:"type:jsonb"`
	SyncRunID      string            `json:"sync_run_id" gorm:"type:text"`
	IngestBatchID  snowflake.ID      `json:"ingest_batch_id" gorm:"index"`
	CreatedAt      time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (MetricPoint) TableName() string { return "metric_points" }

// IngestBatch records one accepted file upload for a data source.
type IngestBatch struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	DataSourceID string       `json:"data_source_id" gorm:"type:text;not null;index:ix_ingest_batches_source_file,priority:1"`
	FileName     string       `json:"file_name" gorm:"type:text;not null;index:ix_ingest_batches_source_file,priority:2"`
	FileSize     int64        `json:"file_size" gorm:"not null"`
	RangeStart   time.Time    `json:"range_start"`
	RangeEnd     time.Time    `json:"range_end"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (IngestBatch) TableName() string { return "ingest_batches" }
