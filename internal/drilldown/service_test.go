package drilldown

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	catalogdomain "github.com/factline/factline/internal/catalog/domain"
	catalogrepository "github.com/factline/factline/internal/catalog/repository"
	catalogservice "github.com/factline/factline/internal/catalog/service"
	"github.com/factline/factline/internal/fingerprint"
	pointdomain "github.com/factline/factline/internal/point/domain"
	pointrepository "github.com/factline/factline/internal/point/repository"
	"github.com/factline/factline/internal/query"
	"github.com/factline/factline/pkg/db/pagination"
)

var node, _ = snowflake.NewNode(4)

func setupService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&pointdomain.MetricPoint{},
		&catalogdomain.MetricDefinition{},
		&catalogdomain.DataSource{},
	))

	catalog := catalogservice.New(catalogservice.Params{
		DB:   db,
		Log:  zap.NewNop(),
		Repo: catalogrepository.Provide(),
	})
	querySvc := query.New(query.Params{
		DB:      db,
		Log:     zap.NewNop(),
		Catalog: catalog,
	})

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Repo:  pointrepository.Provide(),
		Query: querySvc,
	})
	return svc, db
}

func seedPoint(t *testing.T, db *gorm.DB, entityID, day string, value float64, dims map[string]any) {
	t.Helper()

	date, err := time.Parse("2006-01-02", day)
	require.NoError(t, err)
	require.NoError(t, db.Create(&pointdomain.MetricPoint{
		ID:             node.Generate(),
		EntityKind:     "company",
		EntityID:       entityID,
		MetricKey:      "revenue",
		DataSourceID:   "crm",
		Date:           date,
		Value:          value,
		Dimensions:     datatypes.JSONMap(dims),
		DimensionsHash: fingerprint.Dimensions(dims),
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}).Error)
}

func ptrTime(t *testing.T, day string) *time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", day)
	require.NoError(t, err)
	return &parsed
}

func TestResolveReturnsRawPoints(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 10, nil)
	seedPoint(t, db, "acme", "2026-01-02", 20, nil)

	resp, err := svc.Resolve(context.Background(), Request{
		Query: query.Request{MetricKey: "revenue"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Points, 2)
	assert.EqualValues(t, 2, resp.Pagination.Total)
	assert.Equal(t, float64(10), resp.Points[0].Value)
	assert.Equal(t, "acme", resp.Points[0].EntityID)
}

func TestResolvePaginates(t *testing.T) {
	svc, db := setupService(t)
	for _, day := range []string{"2026-01-01", "2026-01-02", "2026-01-03"} {
		seedPoint(t, db, "acme", day, 1, nil)
	}

	resp, err := svc.Resolve(context.Background(), Request{
		Query: query.Request{MetricKey: "revenue"},
		Page:  pagination.Page{Page: 2, PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, resp.Points, 1)
	assert.EqualValues(t, 3, resp.Pagination.Total)
	assert.Equal(t, 2, resp.Pagination.Page)
}

func TestBucketContextNarrowsWindow(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 10, nil)
	seedPoint(t, db, "acme", "2026-01-02", 20, nil)

	resp, err := svc.Resolve(context.Background(), Request{
		Query: query.Request{
			MetricKey: "revenue",
			Bucket:    query.BucketDay,
			Start:     ptrTime(t, "2026-01-01"),
			End:       ptrTime(t, "2026-02-01"),
		},
		Row: &RowContext{Bucket: "2026-01-02"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Points, 1)
	assert.Equal(t, float64(20), resp.Points[0].Value)
}

func TestBucketContextNeverWidens(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-05", 10, nil)

	// The row's month extends past the base window end; the
	// intersection must stay inside the base window.
	resp, err := svc.Resolve(context.Background(), Request{
		Query: query.Request{
			MetricKey: "revenue",
			Bucket:    query.BucketMonth,
			Start:     ptrTime(t, "2026-01-01"),
			End:       ptrTime(t, "2026-01-03"),
		},
		Row: &RowContext{Bucket: "2026-01"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Points)
}

func TestBucketContextRequiresBucketedQuery(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Resolve(context.Background(), Request{
		Query: query.Request{MetricKey: "revenue"},
		Row:   &RowContext{Bucket: "2026-01-02"},
	})
	assert.ErrorIs(t, err, ErrBucketWithoutWidth)
}

func TestRowGroupKeyRejected(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 10, map[string]any{"region": "eu"})

	// Row-context group keys bypass the query normalizer, so the filter
	// itself must reject keys outside the whitelist pattern.
	_, err := svc.Resolve(context.Background(), Request{
		Query: query.Request{MetricKey: "revenue"},
		Row:   &RowContext{Group: map[string]any{`region" OR "1"="1`: "eu"}},
	})
	assert.ErrorIs(t, err, pointdomain.ErrInvalidDimensionKey)
}

func TestRowDimensionsIntersect(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 10, map[string]any{"region": "eu"})
	seedPoint(t, db, "acme", "2026-01-01", 20, map[string]any{"region": "us"})

	resp, err := svc.Resolve(context.Background(), Request{
		Query: query.Request{MetricKey: "revenue"},
		Row:   &RowContext{Group: map[string]any{"region": "us"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Points, 1)
	assert.Equal(t, float64(20), resp.Points[0].Value)
}

func TestContradictingEntityContextYieldsEmptyPage(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 10, nil)

	resp, err := svc.Resolve(context.Background(), Request{
		Query: query.Request{MetricKey: "revenue", EntityID: "acme"},
		Row:   &RowContext{EntityID: "globex"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Points)
	assert.Zero(t, resp.Pagination.Total)
}

func TestContributors(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 30, nil)
	seedPoint(t, db, "globex", "2026-01-01", 10, nil)

	resp, err := svc.Resolve(context.Background(), Request{
		Query:               query.Request{MetricKey: "revenue"},
		IncludeContributors: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Contributors, 2)
	assert.Equal(t, "acme", resp.Contributors[0].EntityID)
	assert.Equal(t, float64(30), resp.Contributors[0].Value)
	assert.InDelta(t, 0.75, resp.Contributors[0].Share, 1e-9)
	assert.Equal(t, "globex", resp.Contributors[1].EntityID)
	assert.InDelta(t, 0.25, resp.Contributors[1].Share, 1e-9)
}
