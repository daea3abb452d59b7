package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Segment is a persisted membership rule for one entity kind.
type Segment struct {
	ID         snowflake.ID   `json:"id" gorm:"primaryKey"`
	Key        string         `json:"key" gorm:"type:text;not null;uniqueIndex"`
	EntityKind string         `json:"entity_kind" gorm:"type:text;not null"`
	Label      string         `json:"label" gorm:"type:text"`
	Rule       datatypes.JSON `json:"rule" gorm:"type:jsonb;not null"`
	IsActive   bool           `json:"is_active" gorm:"not null;default:true"`
	CreatedAt  time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Segment) TableName() string { return "segments" }

const RuleKindMetricThreshold = "metric_threshold"

// Rule is the tagged variant stored in the segment row. Kind selects
// the evaluation strategy; the other fields belong to the selected
// kind.
type Rule struct {
	Kind      string     `json:"kind"`
	MetricKey string     `json:"metricKey,omitempty"`
	Agg       string     `json:"agg,omitempty"`
	Op        string     `json:"op,omitempty"`
	Value     float64    `json:"value,omitempty"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
}

// ParseRule decodes the stored rule payload.
func (s *Segment) ParseRule() (Rule, error) {
	var rule Rule
	if err := json.Unmarshal(s.Rule, &rule); err != nil {
		return Rule{}, err
	}
	return rule, nil
}
