package domain

import (
	"time"

	"gorm.io/datatypes"
)

// MetricDefinition describes a metric key that points may be recorded
// against. RollupStrategy is carried for consumers; the aggregation
// engine never consults it.
type MetricDefinition struct {
	Key                  string            `json:"key" gorm:"primaryKey;type:text"`
	Label                string            `json:"label" gorm:"type:text;not null"`
	Unit                 string            `json:"unit" gorm:"type:text"`
	RollupStrategy       string            `json:"rollup_strategy" gorm:"type:text"`
	DefaultGranularity   string            `json:"default_granularity" gorm:"type:text"`
	AllowedGranularities datatypes.JSON    `json:"allowed_granularities" gorm:"type:jsonb"`
	Owner                string            `json:"owner" gorm:"type:text;index"`
	DimensionsSchema     datatypes.JSONMap `json:"dimensions_schema" gorm:"type:jsonb"`
	CreatedAt            time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (MetricDefinition) TableName() string { return "metric_definitions" }

// DataSource identifies a producer of metric points.
type DataSource struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	Name      string    `json:"name" gorm:"type:text;not null"`
	Kind      string    `json:"kind" gorm:"type:text"`
	Enabled   bool      `json:"enabled" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DataSource) TableName() string { return "data_sources" }
