package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/factline/factline/internal/query"
	segmentdomain "github.com/factline/factline/internal/segment/domain"
)

var ruleOps = map[string]bool{
	">=": true,
	"<=": true,
	">":  true,
	"<":  true,
	"==": true,
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  segmentdomain.Repository
	Query query.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  segmentdomain.Repository
	query query.Service
}

func New(p Params) segmentdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("segment.service"),
		genID: p.GenID,
		repo:  p.Repo,
		query: p.Query,
	}
}

func (s *Service) Create(ctx context.Context, req segmentdomain.CreateRequest) (*segmentdomain.Response, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return nil, segmentdomain.ErrInvalidKey
	}
	entityKind := strings.TrimSpace(req.EntityKind)
	if entityKind == "" {
		return nil, segmentdomain.ErrInvalidEntityKind
	}
	if err := validateRule(req.Rule); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req.Rule)
	if err != nil {
		return nil, segmentdomain.ErrInvalidRule
	}

	now := time.Now().UTC()
	segment := &segmentdomain.Segment{
		ID:         s.genID.Generate(),
		Key:        key,
		EntityKind: entityKind,
		Label:      strings.TrimSpace(req.Label),
		Rule:       datatypes.JSON(payload),
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, s.db, segment); err != nil {
		return nil, err
	}
	return toResponse(segment)
}

func (s *Service) Get(ctx context.Context, key string) (*segmentdomain.Response, error) {
	segment, err := s.repo.FindByKey(ctx, s.db, strings.TrimSpace(key))
	if err != nil {
		return nil, err
	}
	if segment == nil {
		return nil, segmentdomain.ErrNotFound
	}
	return toResponse(segment)
}

func (s *Service) List(ctx context.Context) ([]segmentdomain.Response, error) {
	segments, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}

	out := make([]segmentdomain.Response, 0, len(segments))
	for i := range segments {
		resp, err := toResponse(&segments[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *resp)
	}
	return out, nil
}

func (s *Service) Evaluate(ctx context.Context, segmentKey, entityKind, entityID string) (bool, error) {
	segment, rule, err := s.loadRule(ctx, segmentKey)
	if err != nil {
		return false, err
	}
	if !segment.IsActive || !kindMatches(segment, entityKind) {
		return false, nil
	}

	resp, err := s.query.Query(ctx, ruleRequest(rule, segment.EntityKind, entityID, nil))
	if err != nil {
		return false, err
	}
	if len(resp.Data) == 0 {
		// No points in the window: the aggregate does not exist, so the
		// threshold cannot hold.
		return false, nil
	}
	return compare(resp.Data[0].Value, rule.Op, rule.Value), nil
}

func (s *Service) EvaluateColumn(ctx context.Context, segmentKey, entityKind string, entityIDs []string) (map[string]*float64, error) {
	segment, rule, err := s.loadRule(ctx, segmentKey)
	if err != nil {
		return nil, err
	}

	ids := dedupeIDs(entityIDs)
	out := make(map[string]*float64, len(ids))
	for _, id := range ids {
		out[id] = nil
	}
	if !segment.IsActive || !kindMatches(segment, entityKind) || len(ids) == 0 {
		return out, nil
	}

	// One grouped aggregate covers the whole column; per-entity queries
	// would make evaluation linear in the id count.
	resp, err := s.query.Query(ctx, ruleRequest(rule, segment.EntityKind, "", ids))
	if err != nil {
		return nil, err
	}
	for _, row := range resp.Data {
		if _, ok := out[row.EntityID]; ok {
			value := row.Value
			out[row.EntityID] = &value
		}
	}
	return out, nil
}

func (s *Service) loadRule(ctx context.Context, segmentKey string) (*segmentdomain.Segment, segmentdomain.Rule, error) {
	segment, err := s.repo.FindByKey(ctx, s.db, strings.TrimSpace(segmentKey))
	if err != nil {
		return nil, segmentdomain.Rule{}, err
	}
	if segment == nil {
		return nil, segmentdomain.Rule{}, segmentdomain.ErrNotFound
	}

	rule, err := segment.ParseRule()
	if err != nil {
		return nil, segmentdomain.Rule{}, segmentdomain.ErrInvalidRule
	}
	if rule.Kind != segmentdomain.RuleKindMetricThreshold {
		return nil, segmentdomain.Rule{}, segmentdomain.ErrUnknownRuleKind
	}
	return segment, rule, nil
}

func ruleRequest(rule segmentdomain.Rule, entityKind, entityID string, entityIDs []string) query.Request {
	return query.Request{
		MetricKey:       rule.MetricKey,
		Agg:             rule.Agg,
		Start:           rule.Start,
		End:             rule.End,
		EntityKind:      entityKind,
		EntityID:        entityID,
		EntityIDs:       entityIDs,
		GroupByEntityID: len(entityIDs) > 0,
	}
}

func validateRule(rule segmentdomain.Rule) error {
	switch rule.Kind {
	case segmentdomain.RuleKindMetricThreshold:
	case "":
		return segmentdomain.ErrInvalidRule
	default:
		return segmentdomain.ErrUnknownRuleKind
	}
	if strings.TrimSpace(rule.MetricKey) == "" {
		return segmentdomain.ErrInvalidRule
	}
	if !ruleOps[rule.Op] {
		return segmentdomain.ErrInvalidRule
	}
	if rule.Start != nil && rule.End != nil && !rule.End.After(*rule.Start) {
		return segmentdomain.ErrInvalidRule
	}

	// Reject aggregations the query layer would refuse at evaluation
	// time; a stored segment must stay evaluable.
	if _, err := (query.Request{MetricKey: rule.MetricKey, Agg: rule.Agg}).Normalize(); err != nil {
		return segmentdomain.ErrInvalidRule
	}
	return nil
}

func compare(value float64, op string, threshold float64) bool {
	switch op {
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case "==":
		return value == threshold
	default:
		return false
	}
}

func kindMatches(segment *segmentdomain.Segment, entityKind string) bool {
	entityKind = strings.TrimSpace(entityKind)
	return entityKind == "" || entityKind == segment.EntityKind
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func toResponse(segment *segmentdomain.Segment) (*segmentdomain.Response, error) {
	rule, err := segment.ParseRule()
	if err != nil {
		return nil, segmentdomain.ErrInvalidRule
	}
	return &segmentdomain.Response{
		ID:         segment.ID.String(),
		Key:        segment.Key,
		EntityKind: segment.EntityKind,
		Label:      segment.Label,
		Rule:       rule,
		IsActive:   segment.IsActive,
		CreatedAt:  segment.CreatedAt,
		UpdatedAt:  segment.UpdatedAt,
	}, nil
}
