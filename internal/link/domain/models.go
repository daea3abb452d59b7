package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Link maps an external identifier, such as an upload file name, to an
// optional target entity. A link row may exist with no target; the
// mapping is still considered present.
type Link struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	LinkType   string            `json:"link_type" gorm:"type:text;not null;index:ux_links_type_id,unique,priority:1"`
	LinkID     string            `json:"link_id" gorm:"type:text;not null;index:ux_links_type_id,unique,priority:2"`
	TargetKind string            `json:"target_kind" gorm:"type:text"`
	TargetID   string            `json:"target_id" gorm:"type:text"`
	Metadata   datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Link) TableName() string { return "links" }
