package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	catalogdomain "github.com/factline/factline/internal/catalog/domain"
	catalogrepository "github.com/factline/factline/internal/catalog/repository"
	pointdomain "github.com/factline/factline/internal/point/domain"
	pointrepository "github.com/factline/factline/internal/point/repository"
)

func setupService(t *testing.T) (pointdomain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&pointdomain.MetricPoint{},
		&pointdomain.IngestBatch{},
		&catalogdomain.DataSource{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Repo:        pointrepository.Provide(),
		CatalogRepo: catalogrepository.Provide(),
	})
	return svc, db
}

func validPoint() pointdomain.PointInput {
	return pointdomain.PointInput{
		EntityKind:   "company",
		EntityID:     "acme",
		MetricKey:    "revenue",
		DataSourceID: "crm",
		Date:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Value:        float64(120),
	}
}

func countPoints(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var total int64
	require.NoError(t, db.Model(&pointdomain.MetricPoint{}).Count(&total).Error)
	return total
}

func TestIngestRejectsEmptyBatch(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Ingest(context.Background(), pointdomain.IngestRequest{})
	assert.ErrorIs(t, err, pointdomain.ErrEmptyBatch)
}

func TestIngestFailsClosedOnAnyInvalidPoint(t *testing.T) {
	svc, db := setupService(t)

	bad := validPoint()
	bad.MetricKey = " "

	_, err := svc.Ingest(context.Background(), pointdomain.IngestRequest{
		Points: []pointdomain.PointInput{validPoint(), bad},
	})
	assert.ErrorIs(t, err, pointdomain.ErrInvalidMetricKey)
	assert.Zero(t, countPoints(t, db))
}

func TestIngestFieldValidation(t *testing.T) {
	svc, _ := setupService(t)

	tests := []struct {
		name   string
		mutate func(*pointdomain.PointInput)
		want   error
	}{
		{"entity kind", func(p *pointdomain.PointInput) { p.EntityKind = "" }, pointdomain.ErrInvalidEntityKind},
		{"entity id", func(p *pointdomain.PointInput) { p.EntityID = "" }, pointdomain.ErrInvalidEntityID},
		{"data source", func(p *pointdomain.PointInput) { p.DataSourceID = "" }, pointdomain.ErrInvalidDataSourceID},
		{"date", func(p *pointdomain.PointInput) { p.Date = time.Time{} }, pointdomain.ErrInvalidDate},
		{"value", func(p *pointdomain.PointInput) { p.Value = "not-a-number" }, pointdomain.ErrInvalidValue},
		{"nil value", func(p *pointdomain.PointInput) { p.Value = nil }, pointdomain.ErrInvalidValue},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			point := validPoint()
			tc.mutate(&point)
			_, err := svc.Ingest(context.Background(), pointdomain.IngestRequest{
				Points: []pointdomain.PointInput{point},
			})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestIngestCoercesNumericStrings(t *testing.T) {
	svc, db := setupService(t)

	point := validPoint()
	point.Value = " 42.5 "

	result, err := svc.Ingest(context.Background(), pointdomain.IngestRequest{
		Points: []pointdomain.PointInput{point},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)

	var stored pointdomain.MetricPoint
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, 42.5, stored.Value)
}

func TestIngestUpsertsOnIdentityKey(t *testing.T) {
	svc, db := setupService(t)

	first := validPoint()
	_, err := svc.Ingest(context.Background(), pointdomain.IngestRequest{
		Points: []pointdomain.PointInput{first},
	})
	require.NoError(t, err)

	second := validPoint()
	second.Value = float64(200)
	_, err = svc.Ingest(context.Background(), pointdomain.IngestRequest{
		Points: []pointdomain.PointInput{second},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, countPoints(t, db))

	var stored pointdomain.MetricPoint
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, float64(200), stored.Value)
}

func TestIngestLastInRequestWins(t *testing.T) {
	svc, db := setupService(t)

	first := validPoint()
	second := validPoint()
	second.Value = float64(999)

	result, err := svc.Ingest(context.Background(), pointdomain.IngestRequest{
		Points: []pointdomain.PointInput{first, second},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Received)
	assert.Equal(t, 1, result.Written)

	var stored pointdomain.MetricPoint
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, float64(999), stored.Value)
}

func TestIngestNilAndEmptyDimensionsAreDistinctPoints(t *testing.T) {
	svc, db := setupService(t)

	withNil := validPoint()
	withEmpty := validPoint()
	withEmpty.Dimensions = map[string]any{}

	_, err := svc.Ingest(context.Background(), pointdomain.IngestRequest{
		Points: []pointdomain.PointInput{withNil, withEmpty},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, countPoints(t, db))
}

func TestIngestRegistersDescriptorWithoutDowngrade(t *testing.T) {
	svc, db := setupService(t)

	_, err := svc.Ingest(context.Background(), pointdomain.IngestRequest{
		Points:     []pointdomain.PointInput{validPoint()},
		DataSource: &pointdomain.DataSourceDescriptor{ID: "crm", Name: "CRM Export"},
	})
	require.NoError(t, err)

	var ds catalogdomain.DataSource
	require.NoError(t, db.First(&ds, "id = ?", "crm").Error)
	assert.True(t, ds.Enabled)
	assert.Equal(t, "CRM Export", ds.Name)

	// A later descriptor must not touch the existing row.
	_, err = svc.Ingest(context.Background(), pointdomain.IngestRequest{
		Points:     []pointdomain.PointInput{validPoint()},
		DataSource: &pointdomain.DataSourceDescriptor{ID: "crm", Name: "Renamed"},
	})
	require.NoError(t, err)

	require.NoError(t, db.First(&ds, "id = ?", "crm").Error)
	assert.Equal(t, "CRM Export", ds.Name)
}
