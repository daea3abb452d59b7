package repository

import (
	"context"

	linkdomain "github.com/factline/factline/internal/link/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() linkdomain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, link *linkdomain.Link) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "link_type"}, {Name: "link_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"target_kind", "target_id", "metadata", "updated_at"}),
	}).Create(link).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, linkType, linkID string) (*linkdomain.Link, error) {
	var link linkdomain.Link
	err := db.WithContext(ctx).Raw(
		`SELECT id, link_type, link_id, target_kind, target_id, metadata, created_at, updated_at
		 FROM links WHERE link_type = ? AND link_id = ?`,
		linkType,
		linkID,
	).Scan(&link).Error
	if err != nil {
		return nil, err
	}
	if link.ID == 0 {
		return nil, nil
	}
	return &link, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, linkType string) ([]linkdomain.Link, error) {
	var links []linkdomain.Link
	query := `SELECT id, link_type, link_id, target_kind, target_id, metadata, created_at, updated_at
		 FROM links`
	args := []any{}
	if linkType != "" {
		query += ` WHERE link_type = ?`
		args = append(args, linkType)
	}
	query += ` ORDER BY link_type ASC, link_id ASC`

	err := db.WithContext(ctx).Raw(query, args...).Scan(&links).Error
	if err != nil {
		return nil, err
	}
	return links, nil
}

func (r *repo) ExistingIDs(ctx context.Context, db *gorm.DB, linkType string, linkIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(linkIDs))
	if len(linkIDs) == 0 {
		return existing, nil
	}

	var found []string
	err := db.WithContext(ctx).Raw(
		`SELECT link_id FROM links WHERE link_type = ? AND link_id IN ?`,
		linkType,
		linkIDs,
	).Scan(&found).Error
	if err != nil {
		return nil, err
	}

	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}
