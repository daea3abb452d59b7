package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	catalogdomain "github.com/factline/factline/internal/catalog/domain"
	"github.com/factline/factline/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     catalogdomain.Repository
	Registry *config.RegistryHolder `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     catalogdomain.Repository
	registry *config.RegistryHolder
}

func New(p Params) catalogdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("catalog.service"),
		repo:     p.Repo,
		registry: p.Registry,
	}
}

func (s *Service) CreateMetric(ctx context.Context, req catalogdomain.MetricRequest) (*catalogdomain.MetricResponse, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return nil, catalogdomain.ErrInvalidMetricKey
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		return nil, catalogdomain.ErrInvalidLabel
	}

	now := time.Now().UTC()
	def := &catalogdomain.MetricDefinition{
		Key:                  key,
		Label:                label,
		Unit:                 strings.TrimSpace(req.Unit),
		RollupStrategy:       strings.TrimSpace(req.RollupStrategy),
		DefaultGranularity:   strings.TrimSpace(req.DefaultGranularity),
		AllowedGranularities: marshalGranularities(req.AllowedGranularities),
		Owner:                strings.TrimSpace(req.Owner),
		DimensionsSchema:     datatypes.JSONMap(req.DimensionsSchema),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.repo.UpsertMetric(ctx, s.db, def); err != nil {
		return nil, err
	}

	return toMetricResponse(def), nil
}

func (s *Service) GetMetric(ctx context.Context, key string) (*catalogdomain.MetricResponse, error) {
	def, err := s.repo.FindMetricByKey(ctx, s.db, strings.TrimSpace(key))
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, catalogdomain.ErrMetricNotFound
	}
	return toMetricResponse(def), nil
}

func (s *Service) ListMetrics(ctx context.Context) ([]catalogdomain.MetricResponse, error) {
	defs, err := s.repo.ListMetrics(ctx, s.db)
	if err != nil {
		return nil, err
	}
	resp := make([]catalogdomain.MetricResponse, 0, len(defs))
	for i := range defs {
		resp = append(resp, *toMetricResponse(&defs[i]))
	}
	return resp, nil
}

func (s *Service) ResolveOwner(ctx context.Context, key string) (string, error) {
	def, err := s.repo.FindMetricByKey(ctx, s.db, strings.TrimSpace(key))
	if err != nil {
		return "", err
	}
	if def == nil {
		return "", nil
	}
	return def.Owner, nil
}

func (s *Service) CreateDataSource(ctx context.Context, req catalogdomain.DataSourceRequest) (*catalogdomain.DataSourceResponse, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return nil, catalogdomain.ErrInvalidDataSourceID
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now().UTC()
	ds := &catalogdomain.DataSource{
		ID:        id,
		Name:      strings.TrimSpace(req.Name),
		Kind:      strings.TrimSpace(req.Kind),
		Enabled:   enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.UpsertDataSource(ctx, s.db, ds); err != nil {
		return nil, err
	}

	return toDataSourceResponse(ds), nil
}

func (s *Service) GetDataSource(ctx context.Context, id string) (*catalogdomain.DataSourceResponse, error) {
	ds, err := s.repo.FindDataSourceByID(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, catalogdomain.ErrDataSourceNotFound
	}
	return toDataSourceResponse(ds), nil
}

func (s *Service) ListDataSources(ctx context.Context) ([]catalogdomain.DataSourceResponse, error) {
	sources, err := s.repo.ListDataSources(ctx, s.db)
	if err != nil {
		return nil, err
	}
	resp := make([]catalogdomain.DataSourceResponse, 0, len(sources))
	for i := range sources {
		resp = append(resp, *toDataSourceResponse(&sources[i]))
	}
	return resp, nil
}

// Reload seeds catalog rows from the bootstrap registry file. Existing
// rows with the same key are overwritten; rows absent from the file are
// left alone.
func (s *Service) Reload(ctx context.Context) error {
	if s.registry == nil {
		return nil
	}

	reg := s.registry.Get()
	now := time.Now().UTC()

	for _, entry := range reg.Metrics {
		def := &catalogdomain.MetricDefinition{
			Key:                  strings.TrimSpace(entry.Key),
			Label:                strings.TrimSpace(entry.Label),
			Unit:                 strings.TrimSpace(entry.Unit),
			RollupStrategy:       strings.TrimSpace(entry.RollupStrategy),
			DefaultGranularity:   strings.TrimSpace(entry.DefaultGranularity),
			AllowedGranularities: marshalGranularities(entry.AllowedGranularities),
			Owner:                strings.TrimSpace(entry.Owner),
			DimensionsSchema:     toDimensionsSchema(entry.Dimensions),
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if def.Key == "" {
			continue
		}
		if err := s.repo.UpsertMetric(ctx, s.db, def); err != nil {
			return err
		}
	}

	for _, entry := range reg.DataSources {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		ds := &catalogdomain.DataSource{
			ID:        strings.TrimSpace(entry.ID),
			Name:      strings.TrimSpace(entry.Name),
			Kind:      strings.TrimSpace(entry.Kind),
			Enabled:   enabled,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if ds.ID == "" {
			continue
		}
		if err := s.repo.UpsertDataSource(ctx, s.db, ds); err != nil {
			return err
		}
	}

	s.log.Info("catalog reloaded from registry",
		zap.Int("metrics", len(reg.Metrics)),
		zap.Int("data_sources", len(reg.DataSources)),
	)
	return nil
}

func marshalGranularities(values []string) datatypes.JSON {
	if len(values) == 0 {
		return nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func unmarshalGranularities(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}

func toDimensionsSchema(dims []string) datatypes.JSONMap {
	if len(dims) == 0 {
		return nil
	}
	schema := make(map[string]any, len(dims))
	for _, d := range dims {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		schema[d] = "string"
	}
	return datatypes.JSONMap(schema)
}

func toMetricResponse(def *catalogdomain.MetricDefinition) *catalogdomain.MetricResponse {
	return &catalogdomain.MetricResponse{
		Key:                  def.Key,
		Label:                def.Label,
		Unit:                 def.Unit,
		RollupStrategy:       def.RollupStrategy,
		DefaultGranularity:   def.DefaultGranularity,
		AllowedGranularities: unmarshalGranularities(def.AllowedGranularities),
		Owner:                def.Owner,
		DimensionsSchema:     map[string]any(def.DimensionsSchema),
		CreatedAt:            def.CreatedAt,
		UpdatedAt:            def.UpdatedAt,
	}
}

func toDataSourceResponse(ds *catalogdomain.DataSource) *catalogdomain.DataSourceResponse {
	return &catalogdomain.DataSourceResponse{
		ID:        ds.ID,
		Name:      ds.Name,
		Kind:      ds.Kind,
		Enabled:   ds.Enabled,
		CreatedAt: ds.CreatedAt,
		UpdatedAt: ds.UpdatedAt,
	}
}
