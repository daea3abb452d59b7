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
	"gorm.io/datatypes"
	"gorm.io/gorm"

	catalogdomain "github.com/factline/factline/internal/catalog/domain"
	catalogrepository "github.com/factline/factline/internal/catalog/repository"
	catalogservice "github.com/factline/factline/internal/catalog/service"
	"github.com/factline/factline/internal/fingerprint"
	pointdomain "github.com/factline/factline/internal/point/domain"
	"github.com/factline/factline/internal/query"
	segmentdomain "github.com/factline/factline/internal/segment/domain"
	segmentrepository "github.com/factline/factline/internal/segment/repository"
)

var node, _ = snowflake.NewNode(5)

func setupService(t *testing.T) (segmentdomain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&segmentdomain.Segment{},
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
		GenID: node,
		Repo:  segmentrepository.Provide(),
		Query: querySvc,
	})
	return svc, db
}

func seedPoint(t *testing.T, db *gorm.DB, entityID, day string, value float64) {
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
		Dimensions:     datatypes.JSONMap{},
		DimensionsHash: fingerprint.Dimensions(nil),
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}).Error)
}

func thresholdRule(op string, value float64) segmentdomain.Rule {
	return segmentdomain.Rule{
		Kind:      segmentdomain.RuleKindMetricThreshold,
		MetricKey: "revenue",
		Agg:       query.AggSum,
		Op:        op,
		Value:     value,
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  segmentdomain.CreateRequest
		want error
	}{
		{
			name: "missing key",
			req:  segmentdomain.CreateRequest{EntityKind: "company", Rule: thresholdRule(">=", 1)},
			want: segmentdomain.ErrInvalidKey,
		},
		{
			name: "missing entity kind",
			req:  segmentdomain.CreateRequest{Key: "big", Rule: thresholdRule(">=", 1)},
			want: segmentdomain.ErrInvalidEntityKind,
		},
		{
			name: "missing rule kind",
			req:  segmentdomain.CreateRequest{Key: "big", EntityKind: "company"},
			want: segmentdomain.ErrInvalidRule,
		},
		{
			name: "unknown rule kind",
			req: segmentdomain.CreateRequest{
				Key:        "big",
				EntityKind: "company",
				Rule:       segmentdomain.Rule{Kind: "cohort_overlap", MetricKey: "revenue", Op: ">=", Value: 1},
			},
			want: segmentdomain.ErrUnknownRuleKind,
		},
		{
			name: "missing metric key",
			req: segmentdomain.CreateRequest{
				Key:        "big",
				EntityKind: "company",
				Rule:       segmentdomain.Rule{Kind: segmentdomain.RuleKindMetricThreshold, Op: ">=", Value: 1},
			},
			want: segmentdomain.ErrInvalidRule,
		},
		{
			name: "bad operator",
			req: segmentdomain.CreateRequest{
				Key:        "big",
				EntityKind: "company",
				Rule:       segmentdomain.Rule{Kind: segmentdomain.RuleKindMetricThreshold, MetricKey: "revenue", Op: "!=", Value: 1},
			},
			want: segmentdomain.ErrInvalidRule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateInvalidWindow(t *testing.T) {
	svc, _ := setupService(t)

	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := thresholdRule(">=", 1)
	rule.Start = &start
	rule.End = &end

	_, err := svc.Create(context.Background(), segmentdomain.CreateRequest{
		Key:        "big",
		EntityKind: "company",
		Rule:       rule,
	})
	assert.ErrorIs(t, err, segmentdomain.ErrInvalidRule)
}

func TestCreateGetList(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, segmentdomain.CreateRequest{
		Key:        "big_spender",
		EntityKind: "company",
		Label:      "Big spenders",
		Rule:       thresholdRule(">=", 1000),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	got, err := svc.Get(ctx, "big_spender")
	require.NoError(t, err)
	assert.Equal(t, "Big spenders", got.Label)
	assert.Equal(t, segmentdomain.RuleKindMetricThreshold, got.Rule.Kind)
	assert.Equal(t, float64(1000), got.Rule.Value)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, segmentdomain.ErrNotFound)

	_, err = svc.Create(ctx, segmentdomain.CreateRequest{
		Key:        "churn_risk",
		EntityKind: "company",
		Rule:       thresholdRule("<", 10),
	})
	require.NoError(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "big_spender", list[0].Key)
	assert.Equal(t, "churn_risk", list[1].Key)
}

func TestEvaluateThreshold(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	seedPoint(t, db, "acme", "2024-01-01", 600)
	seedPoint(t, db, "acme", "2024-01-02", 500)
	seedPoint(t, db, "globex", "2024-01-01", 200)

	_, err := svc.Create(ctx, segmentdomain.CreateRequest{
		Key:        "big_spender",
		EntityKind: "company",
		Rule:       thresholdRule(">=", 1000),
	})
	require.NoError(t, err)

	match, err := svc.Evaluate(ctx, "big_spender", "company", "acme")
	require.NoError(t, err)
	assert.True(t, match)

	match, err = svc.Evaluate(ctx, "big_spender", "company", "globex")
	require.NoError(t, err)
	assert.False(t, match)

	// No points at all, the aggregate does not exist.
	match, err = svc.Evaluate(ctx, "big_spender", "company", "initech")
	require.NoError(t, err)
	assert.False(t, match)

	_, err = svc.Evaluate(ctx, "missing", "company", "acme")
	assert.ErrorIs(t, err, segmentdomain.ErrNotFound)
}

func TestEvaluateWindowedRule(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	seedPoint(t, db, "acme", "2024-01-01", 900)
	seedPoint(t, db, "acme", "2024-02-01", 900)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	rule := thresholdRule(">=", 1000)
	rule.Start = &start
	rule.End = &end

	_, err := svc.Create(ctx, segmentdomain.CreateRequest{
		Key:        "january_big",
		EntityKind: "company",
		Rule:       rule,
	})
	require.NoError(t, err)

	// Only January is inside the window, so the sum stays below the
	// threshold.
	match, err := svc.Evaluate(ctx, "january_big", "company", "acme")
	require.NoError(t, err)
	assert.False(t, match)
}

func TestEvaluateKindMismatch(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	seedPoint(t, db, "acme", "2024-01-01", 5000)

	_, err := svc.Create(ctx, segmentdomain.CreateRequest{
		Key:        "big_spender",
		EntityKind: "company",
		Rule:       thresholdRule(">=", 1000),
	})
	require.NoError(t, err)

	match, err := svc.Evaluate(ctx, "big_spender", "user", "acme")
	require.NoError(t, err)
	assert.False(t, match)
}

func TestEvaluateInactiveSegment(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	seedPoint(t, db, "acme", "2024-01-01", 5000)

	created, err := svc.Create(ctx, segmentdomain.CreateRequest{
		Key:        "big_spender",
		EntityKind: "company",
		Rule:       thresholdRule(">=", 1000),
	})
	require.NoError(t, err)

	require.NoError(t, db.Model(&segmentdomain.Segment{}).
		Where("key = ?", created.Key).
		Update("is_active", false).Error)

	match, err := svc.Evaluate(ctx, "big_spender", "company", "acme")
	require.NoError(t, err)
	assert.False(t, match)
}

func TestEvaluateUnknownStoredRuleKind(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	// Rows written before a rule kind was retired keep their payloads;
	// evaluation has to refuse them rather than silently not match.
	require.NoError(t, db.Create(&segmentdomain.Segment{
		ID:         node.Generate(),
		Key:        "legacy",
		EntityKind: "company",
		Rule:       datatypes.JSON([]byte(`{"kind":"lookalike_model"}`)),
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}).Error)

	_, err := svc.Evaluate(ctx, "legacy", "company", "acme")
	assert.ErrorIs(t, err, segmentdomain.ErrUnknownRuleKind)
}

func TestEvaluateColumn(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	seedPoint(t, db, "acme", "2024-01-01", 600)
	seedPoint(t, db, "acme", "2024-01-02", 500)
	seedPoint(t, db, "globex", "2024-01-01", 200)
	seedPoint(t, db, "initech", "2024-01-01", 1000)

	_, err := svc.Create(ctx, segmentdomain.CreateRequest{
		Key:        "big_spender",
		EntityKind: "company",
		Rule:       thresholdRule(">=", 1000),
	})
	require.NoError(t, err)

	got, err := svc.EvaluateColumn(ctx, "big_spender", "company", []string{"acme", "globex", "initech", "hooli", "acme"})
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.NotNil(t, got["acme"])
	assert.Equal(t, float64(1100), *got["acme"])
	require.NotNil(t, got["globex"])
	assert.Equal(t, float64(200), *got["globex"])
	require.NotNil(t, got["initech"])
	assert.Equal(t, float64(1000), *got["initech"])

	// No points for hooli, the cell projects null.
	val, ok := got["hooli"]
	require.True(t, ok)
	assert.Nil(t, val)
}

func TestEvaluateColumnInactive(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	seedPoint(t, db, "acme", "2024-01-01", 5000)

	created, err := svc.Create(ctx, segmentdomain.CreateRequest{
		Key:        "big_spender",
		EntityKind: "company",
		Rule:       thresholdRule(">=", 1000),
	})
	require.NoError(t, err)
	require.NoError(t, db.Model(&segmentdomain.Segment{}).
		Where("key = ?", created.Key).
		Update("is_active", false).Error)

	got, err := svc.EvaluateColumn(ctx, "big_spender", "company", []string{"acme"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got["acme"])
}
