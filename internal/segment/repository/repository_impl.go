package repository

import (
	"context"

	segmentdomain "github.com/factline/factline/internal/segment/domain"
	"github.com/factline/factline/pkg/db/option"
	pkgrepository "github.com/factline/factline/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() segmentdomain.Repository {
	return &repo{}
}

func store(db *gorm.DB) pkgrepository.Repository[segmentdomain.Segment] {
	return pkgrepository.ProvideStore[segmentdomain.Segment](db)
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, segment *segmentdomain.Segment) error {
	return store(db).Create(ctx, segment)
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, key string) (*segmentdomain.Segment, error) {
	return store(db).FindOne(ctx, &segmentdomain.Segment{Key: key})
}

func (r *repo) List(ctx context.Context, db *gorm.DB, opts ...option.QueryOption) ([]segmentdomain.Segment, error) {
	sorted := append([]option.QueryOption{option.WithSortBy(option.QuerySortBy{
		Column: "key",
		Allow:  map[string]bool{"key": true},
	})}, opts...)

	rows, err := store(db).Find(ctx, &segmentdomain.Segment{}, sorted...)
	if err != nil {
		return nil, err
	}

	segments := make([]segmentdomain.Segment, 0, len(rows))
	for _, row := range rows {
		segments = append(segments, *row)
	}
	return segments, nil
}
