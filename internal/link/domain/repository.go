package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, link *Link) error
	Find(ctx context.Context, db *gorm.DB, linkType, linkID string) (*Link, error)
	List(ctx context.Context, db *gorm.DB, linkType string) ([]Link, error)
	// ExistingIDs returns the subset of linkIDs that have a row for
	// linkType, in one query.
	ExistingIDs(ctx context.Context, db *gorm.DB, linkType string, linkIDs []string) (map[string]bool, error)
}
