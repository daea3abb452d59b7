package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/factline/factline/internal/catalog/domain"
	"github.com/factline/factline/internal/fingerprint"
	obsmetrics "github.com/factline/factline/internal/observability/metrics"
	pointdomain "github.com/factline/factline/internal/point/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        pointdomain.Repository
	CatalogRepo catalogdomain.Repository
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	repo        pointdomain.Repository
	catalogRepo catalogdomain.Repository
	genID       *snowflake.Node
	metrics     *obsmetrics.Metrics
}

func New(p Params) pointdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("point.service"),
		repo:        p.Repo,
		catalogRepo: p.CatalogRepo,
		genID:       p.GenID,
		metrics:     p.Metrics,
	}
}

// Ingest validates the whole batch before touching storage; one bad
// point rejects the request with zero writes.
func (s *Service) Ingest(ctx context.Context, req pointdomain.IngestRequest) (*pointdomain.IngestResult, error) {
	if len(req.Points) == 0 {
		return nil, pointdomain.ErrEmptyBatch
	}

	now := time.Now().UTC()
	records, err := BuildRecords(s.genID, req.Points, req.SyncRunID, now)
	if err != nil {
		return nil, err
	}

	if req.DataSource != nil && strings.TrimSpace(req.DataSource.ID) == "" {
		return nil, pointdomain.ErrInvalidDataSourceID
	}

	var written int
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.DataSource != nil {
			ds := &catalogdomain.DataSource{
				ID:        strings.TrimSpace(req.DataSource.ID),
				Name:      strings.TrimSpace(req.DataSource.Name),
				Kind:      strings.TrimSpace(req.DataSource.Kind),
				Enabled:   true,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.catalogRepo.EnsureDataSource(ctx, tx, ds); err != nil {
				return err
			}
		}

		count, err := s.repo.UpsertPoints(ctx, tx, records)
		if err != nil {
			return err
		}
		written = count
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordMetrics(ctx, records)
	s.log.Debug("points ingested",
		zap.Int("received", len(req.Points)),
		zap.Int("written", written),
	)

	return &pointdomain.IngestResult{
		Received: len(req.Points),
		Written:  written,
	}, nil
}

// BuildRecords validates and normalizes inputs into storable points.
// The whole slice is validated before anything is returned, and inputs
// sharing one identity key collapse to the later record.
func BuildRecords(genID *snowflake.Node, inputs []pointdomain.PointInput, syncRunID string, now time.Time) ([]pointdomain.MetricPoint, error) {
	records := make([]pointdomain.MetricPoint, 0, len(inputs))
	index := make(map[string]int, len(inputs))

	for i, input := range inputs {
		record, err := buildRecord(genID, input, syncRunID, now)
		if err != nil {
			return nil, fmt.Errorf("points[%d]: %w", i, err)
		}

		key := identityKey(record)
		if pos, ok := index[key]; ok {
			record.ID = records[pos].ID
			records[pos] = *record
			continue
		}
		index[key] = len(records)
		records = append(records, *record)
	}

	return records, nil
}

func buildRecord(genID *snowflake.Node, input pointdomain.PointInput, syncRunID string, now time.Time) (*pointdomain.MetricPoint, error) {
	entityKind := strings.TrimSpace(input.EntityKind)
	if entityKind == "" {
		return nil, pointdomain.ErrInvalidEntityKind
	}
	entityID := strings.TrimSpace(input.EntityID)
	if entityID == "" {
		return nil, pointdomain.ErrInvalidEntityID
	}
	metricKey := strings.TrimSpace(input.MetricKey)
	if metricKey == "" {
		return nil, pointdomain.ErrInvalidMetricKey
	}
	dataSourceID := strings.TrimSpace(input.DataSourceID)
	if dataSourceID == "" {
		return nil, pointdomain.ErrInvalidDataSourceID
	}
	if input.Date.IsZero() {
		return nil, pointdomain.ErrInvalidDate
	}

	value, err := coerceValue(input.Value)
	if err != nil {
		return nil, err
	}

	runID := strings.TrimSpace(input.SyncRunID)
	if runID == "" {
		runID = strings.TrimSpace(syncRunID)
	}

	return &pointdomain.MetricPoint{
		ID:             genID.Generate(),
		EntityKind:     entityKind,
		EntityID:       entityID,
		MetricKey:      metricKey,
		DataSourceID:   dataSourceID,
		Date:           input.Date.UTC(),
		Granularity:    strings.TrimSpace(input.Granularity),
		Value:          value,
		Dimensions:     datatypes.JSONMap(input.Dimensions),
		DimensionsHash: fingerprint.Dimensions(input.Dimensions),
		SyncRunID:      runID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *Service) recordMetrics(ctx context.Context, records []pointdomain.MetricPoint) {
	if s.metrics == nil {
		return
	}
	counts := make(map[string]int64)
	for i := range records {
		counts[records[i].MetricKey]++
	}
	for key, count := range counts {
		s.metrics.RecordPointsIngested(ctx, key, count)
	}
}

func identityKey(p *pointdomain.MetricPoint) string {
	return strings.Join([]string{
		p.EntityKind,
		p.EntityID,
		p.MetricKey,
		p.DataSourceID,
		p.Date.Format(time.RFC3339Nano),
		p.Granularity,
		p.DimensionsHash,
	}, "\x1f")
}

func coerceValue(v any) (float64, error) {
	var value float64
	switch raw := v.(type) {
	case float64:
		value = raw
	case float32:
		value = float64(raw)
	case int:
		value = float64(raw)
	case int64:
		value = float64(raw)
	case json.Number:
		parsed, err := raw.Float64()
		if err != nil {
			return 0, pointdomain.ErrInvalidValue
		}
		value = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return 0, pointdomain.ErrInvalidValue
		}
		value = parsed
	default:
		return 0, pointdomain.ErrInvalidValue
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, pointdomain.ErrInvalidValue
	}
	return value, nil
}
