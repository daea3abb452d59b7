// Package option carries composable query modifiers for the generic
// repository.
package option

import (
	"strings"

	"gorm.io/gorm"
)

type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type optionFunc func(*gorm.DB) *gorm.DB

func (f optionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// WithLimitOffset applies page-style windowing.
func WithLimitOffset(limit, offset int) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		if limit > 0 {
			db = db.Limit(limit)
		}
		if offset > 0 {
			db = db.Offset(offset)
		}
		return db
	})
}

// QuerySortBy restricts ordering to whitelisted columns.
type QuerySortBy struct {
	Column string
	Desc   bool
	Allow  map[string]bool
}

// WithSortBy orders by the requested column when the whitelist allows
// it; disallowed columns are silently dropped rather than interpolated.
func WithSortBy(sort QuerySortBy) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		column := strings.TrimSpace(sort.Column)
		if column == "" || !sort.Allow[column] {
			return db
		}
		order := column
		if sort.Desc {
			order += " DESC"
		}
		return db.Order(order)
	})
}
