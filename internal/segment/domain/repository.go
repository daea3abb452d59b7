package domain

import (
	"context"

	"gorm.io/gorm"

	"github.com/factline/factline/pkg/db/option"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, segment *Segment) error
	FindByKey(ctx context.Context, db *gorm.DB, key string) (*Segment, error)
	List(ctx context.Context, db *gorm.DB, opts ...option.QueryOption) ([]Segment, error)
}
