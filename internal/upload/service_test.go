package upload

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

	pointdomain "github.com/factline/factline/internal/point/domain"
	pointrepository "github.com/factline/factline/internal/point/repository"
)

func setupService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&pointdomain.MetricPoint{}, &pointdomain.IngestBatch{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  pointrepository.Provide(),
	})
	return svc, db
}

func filePoints(values map[string]float64) []pointdomain.PointInput {
	points := make([]pointdomain.PointInput, 0, len(values))
	for day, value := range values {
		date, _ := time.Parse("2006-01-02", day)
		points = append(points, pointdomain.PointInput{
			EntityKind:   "company",
			EntityID:     "acme",
			MetricKey:    "revenue",
			DataSourceID: "crm",
			Date:         date,
			Value:        value,
		})
	}
	return points
}

func countPoints(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var total int64
	require.NoError(t, db.Model(&pointdomain.MetricPoint{}).Count(&total).Error)
	return total
}

func TestResolveValidatesRequest(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Resolve(context.Background(), Request{FileName: "a.csv", Points: filePoints(map[string]float64{"2026-01-01": 1})})
	assert.ErrorIs(t, err, ErrInvalidDataSourceID)

	_, err = svc.Resolve(context.Background(), Request{DataSourceID: "crm", Points: filePoints(map[string]float64{"2026-01-01": 1})})
	assert.ErrorIs(t, err, ErrInvalidFileName)

	_, err = svc.Resolve(context.Background(), Request{DataSourceID: "crm", FileName: "a.csv"})
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestFirstUploadIngests(t *testing.T) {
	svc, db := setupService(t)

	result, err := svc.Resolve(context.Background(), Request{
		DataSourceID: "crm",
		FileName:     "sales.csv",
		FileSize:     100,
		Points:       filePoints(map[string]float64{"2026-01-01": 10, "2026-01-02": 20}),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusIngested, result.Status)
	assert.Equal(t, 2, result.PointsIngested)
	assert.Empty(t, result.ReplacedBatchID)
	assert.EqualValues(t, 2, countPoints(t, db))

	var batch pointdomain.IngestBatch
	require.NoError(t, db.First(&batch).Error)
	assert.Equal(t, "sales.csv", batch.FileName)
}

func TestSmallerReuploadSkips(t *testing.T) {
	svc, db := setupService(t)

	first, err := svc.Resolve(context.Background(), Request{
		DataSourceID: "crm",
		FileName:     "sales.csv",
		FileSize:     100,
		Points:       filePoints(map[string]float64{"2026-01-01": 10}),
	})
	require.NoError(t, err)

	result, err := svc.Resolve(context.Background(), Request{
		DataSourceID: "crm",
		FileName:     "sales.csv",
		FileSize:     100,
		Points:       filePoints(map[string]float64{"2026-01-01": 99}),
	})
	require.NoError(t, err)
	assert.True(t, result.Skipped())
	assert.Equal(t, ReasonSmallerFile, result.Reason)
	assert.Equal(t, first.BatchID, result.ExistingBatchID)
	assert.EqualValues(t, 100, result.ExistingFileSize)

	// The skip wrote nothing.
	var stored pointdomain.MetricPoint
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, float64(10), stored.Value)
}

func TestLargerReuploadReplaces(t *testing.T) {
	svc, db := setupService(t)

	first, err := svc.Resolve(context.Background(), Request{
		DataSourceID: "crm",
		FileName:     "sales.csv",
		FileSize:     100,
		Points:       filePoints(map[string]float64{"2026-01-01": 10, "2026-01-02": 20}),
	})
	require.NoError(t, err)

	result, err := svc.Resolve(context.Background(), Request{
		DataSourceID: "crm",
		FileName:     "sales.csv",
		FileSize:     200,
		Points:       filePoints(map[string]float64{"2026-01-01": 11, "2026-01-02": 21, "2026-01-03": 31}),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusIngested, result.Status)
	assert.Equal(t, first.BatchID, result.ReplacedBatchID)
	assert.EqualValues(t, 3, countPoints(t, db))
}

func TestOverwriteAcceptsSmallerFile(t *testing.T) {
	svc, db := setupService(t)

	_, err := svc.Resolve(context.Background(), Request{
		DataSourceID: "crm",
		FileName:     "sales.csv",
		FileSize:     100,
		Points:       filePoints(map[string]float64{"2026-01-01": 10, "2026-01-02": 20}),
	})
	require.NoError(t, err)

	result, err := svc.Resolve(context.Background(), Request{
		DataSourceID: "crm",
		FileName:     "sales.csv",
		FileSize:     50,
		Overwrite:    true,
		Points:       filePoints(map[string]float64{"2026-01-01": 11}),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusIngested, result.Status)

	// Overwrite wipes only the range covered by the new file, so the
	// prior Jan 2 point survives.
	points := []pointdomain.MetricPoint{}
	require.NoError(t, db.Order("date asc").Find(&points).Error)
	require.Len(t, points, 2)
	assert.Equal(t, float64(11), points[0].Value)
	assert.Equal(t, float64(20), points[1].Value)
}

func TestDifferentFileNamesDoNotConflict(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Resolve(context.Background(), Request{
		DataSourceID: "crm",
		FileName:     "jan.csv",
		FileSize:     100,
		Points:       filePoints(map[string]float64{"2026-01-01": 10}),
	})
	require.NoError(t, err)

	result, err := svc.Resolve(context.Background(), Request{
		DataSourceID: "crm",
		FileName:     "feb.csv",
		FileSize:     10,
		Points:       filePoints(map[string]float64{"2026-02-01": 10}),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusIngested, result.Status)
}
