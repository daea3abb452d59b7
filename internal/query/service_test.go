package query

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
)

var node, _ = snowflake.NewNode(3)

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

	svc := New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		Catalog: catalog,
	})
	return svc, db
}

func seedPoint(t *testing.T, db *gorm.DB, entityID, day string, value float64, dims map[string]any) {
	t.Helper()

	date, err := time.Parse("2006-01-02", day)
	require.NoError(t, err)

	point := pointdomain.MetricPoint{
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
	}
	require.NoError(t, db.Create(&point).Error)
}

func ptrTime(t *testing.T, day string) *time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", day)
	require.NoError(t, err)
	return &parsed
}

func TestNormalizeValidation(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"missing metric key", Request{}, ErrInvalidMetricKey},
		{"bad agg", Request{MetricKey: "m", Agg: "median"}, ErrInvalidAgg},
		{"bad bucket", Request{MetricKey: "m", Bucket: "year"}, ErrInvalidBucket},
		{"bucket without range", Request{MetricKey: "m", Bucket: BucketDay}, ErrMissingRange},
		{"bucket with only start", Request{MetricKey: "m", Bucket: BucketDay, Start: &start}, ErrMissingRange},
		{"inverted range", Request{MetricKey: "m", Start: &end, End: &start}, ErrInvalidRange},
		{"equal range", Request{MetricKey: "m", Start: &start, End: &start}, ErrInvalidRange},
		{"bad group key", Request{MetricKey: "m", GroupBy: []string{"region;drop"}}, ErrInvalidGroupBy},
		{"bad dimension key", Request{MetricKey: "m", Dimensions: map[string]any{"region) OR (1=1": "eu"}}, ErrInvalidDimensionKey},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.req.Normalize()
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	req, err := Request{MetricKey: " revenue "}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "revenue", req.MetricKey)
	assert.Equal(t, AggSum, req.Agg)
	assert.Equal(t, BucketNone, req.Bucket)
}

func TestSumWithoutBucket(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 10, nil)
	seedPoint(t, db, "acme", "2026-01-02", 20, nil)
	seedPoint(t, db, "globex", "2026-01-02", 5, nil)

	resp, err := svc.Query(context.Background(), Request{MetricKey: "revenue"})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, float64(35), resp.Data[0].Value)
	assert.Equal(t, AggSum, resp.Meta.Agg)
}

func TestAggregations(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 10, nil)
	seedPoint(t, db, "acme", "2026-01-02", 30, nil)

	tests := []struct {
		agg  string
		want float64
	}{
		{AggAvg, 20},
		{AggMin, 10},
		{AggMax, 30},
		{AggCount, 2},
		{AggLast, 30},
	}

	for _, tc := range tests {
		t.Run(tc.agg, func(t *testing.T) {
			resp, err := svc.Query(context.Background(), Request{MetricKey: "revenue", Agg: tc.agg})
			require.NoError(t, err)
			require.Len(t, resp.Data, 1)
			assert.Equal(t, tc.want, resp.Data[0].Value)
		})
	}
}

func TestDayBuckets(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 10, nil)
	seedPoint(t, db, "acme", "2026-01-01", 15, map[string]any{"plan": "pro"})
	seedPoint(t, db, "acme", "2026-01-03", 20, nil)

	resp, err := svc.Query(context.Background(), Request{
		MetricKey: "revenue",
		Bucket:    BucketDay,
		Start:     ptrTime(t, "2026-01-01"),
		End:       ptrTime(t, "2026-02-01"),
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "2026-01-01", resp.Data[0].Bucket)
	assert.Equal(t, float64(25), resp.Data[0].Value)
	assert.Equal(t, "2026-01-03", resp.Data[1].Bucket)
	assert.Equal(t, float64(20), resp.Data[1].Value)
}

func TestMonthBucketsExcludeEnd(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-15", 10, nil)
	seedPoint(t, db, "acme", "2026-02-15", 20, nil)
	seedPoint(t, db, "acme", "2026-03-01", 99, nil)

	resp, err := svc.Query(context.Background(), Request{
		MetricKey: "revenue",
		Bucket:    BucketMonth,
		Start:     ptrTime(t, "2026-01-01"),
		End:       ptrTime(t, "2026-03-01"),
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "2026-01", resp.Data[0].Bucket)
	assert.Equal(t, "2026-02", resp.Data[1].Bucket)
}

func TestGroupByEntityID(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 10, nil)
	seedPoint(t, db, "globex", "2026-01-01", 30, nil)

	resp, err := svc.Query(context.Background(), Request{
		MetricKey:       "revenue",
		GroupByEntityID: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)

	byEntity := map[string]float64{}
	for _, row := range resp.Data {
		byEntity[row.EntityID] = row.Value
	}
	assert.Equal(t, float64(10), byEntity["acme"])
	assert.Equal(t, float64(30), byEntity["globex"])
}

func TestGroupByDimension(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 10, map[string]any{"region": "eu"})
	seedPoint(t, db, "acme", "2026-01-02", 15, map[string]any{"region": "eu"})
	seedPoint(t, db, "acme", "2026-01-02", 7, map[string]any{"region": "us"})

	resp, err := svc.Query(context.Background(), Request{
		MetricKey: "revenue",
		GroupBy:   []string{"region"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)

	byRegion := map[any]float64{}
	for _, row := range resp.Data {
		byRegion[row.Group["region"]] = row.Value
	}
	assert.Equal(t, float64(25), byRegion["eu"])
	assert.Equal(t, float64(7), byRegion["us"])
}

func TestGroupByReservedKey(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 10, nil)

	resp, err := svc.Query(context.Background(), Request{
		MetricKey: "revenue",
		GroupBy:   []string{"data_source_id"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "crm", resp.Data[0].Group["data_source_id"])
}

func TestDimensionFilters(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 10, map[string]any{"region": "eu"})
	seedPoint(t, db, "acme", "2026-01-02", 20, map[string]any{"region": "us"})
	seedPoint(t, db, "acme", "2026-01-03", 40, nil)

	resp, err := svc.Query(context.Background(), Request{
		MetricKey:  "revenue",
		Dimensions: map[string]any{"region": "eu"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, float64(10), resp.Data[0].Value)

	// nil filter matches points without the dimension.
	resp, err = svc.Query(context.Background(), Request{
		MetricKey:  "revenue",
		Dimensions: map[string]any{"region": nil},
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, float64(40), resp.Data[0].Value)
}

func TestEntityIDsFilter(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 10, nil)
	seedPoint(t, db, "globex", "2026-01-01", 20, nil)
	seedPoint(t, db, "initech", "2026-01-01", 40, nil)

	resp, err := svc.Query(context.Background(), Request{
		MetricKey: "revenue",
		EntityIDs: []string{"acme", "initech"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, float64(50), resp.Data[0].Value)
}

func TestLastPerGroup(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 10, nil)
	seedPoint(t, db, "acme", "2026-01-05", 12, nil)
	seedPoint(t, db, "globex", "2026-01-02", 7, nil)
	seedPoint(t, db, "globex", "2026-01-03", 9, nil)

	resp, err := svc.Query(context.Background(), Request{
		MetricKey:       "revenue",
		Agg:             AggLast,
		GroupByEntityID: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)

	byEntity := map[string]float64{}
	for _, row := range resp.Data {
		byEntity[row.EntityID] = row.Value
	}
	assert.Equal(t, float64(12), byEntity["acme"])
	assert.Equal(t, float64(9), byEntity["globex"])
}

func TestBatchQueryIsolatesSlotErrors(t *testing.T) {
	svc, db := setupService(t)
	seedPoint(t, db, "acme", "2026-01-01", 10, nil)

	results := svc.BatchQuery(context.Background(), []Request{
		{MetricKey: "revenue"},
		{MetricKey: ""},
		{MetricKey: "revenue", Agg: "bogus"},
	})
	require.Len(t, results, 3)

	require.NotNil(t, results[0].Response)
	assert.Equal(t, float64(10), results[0].Response.Data[0].Value)
	assert.Empty(t, results[0].Error)

	assert.Nil(t, results[1].Response)
	assert.NotEmpty(t, results[1].Error)

	assert.Nil(t, results[2].Response)
	assert.NotEmpty(t, results[2].Error)
}

func TestBucketRangeRoundTrip(t *testing.T) {
	start, end, err := BucketRange(BucketDay, "2026-01-03")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC), end)

	start, end, err = BucketRange(BucketMonth, "2026-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), end)

	_, _, err = BucketRange(BucketHour, "2026-01-03T15:00:00Z")
	require.NoError(t, err)

	_, _, err = BucketRange(BucketDay, "garbage")
	assert.Error(t, err)
}
