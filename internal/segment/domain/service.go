package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Get(ctx context.Context, key string) (*Response, error)
	List(ctx context.Context) ([]Response, error)
	// Evaluate reports whether the entity currently belongs to the
	// segment. Inactive segments never match.
	Evaluate(ctx context.Context, segmentKey, entityKind, entityID string) (bool, error)
	// EvaluateColumn projects one segment over a whole column of
	// entities with a single grouped aggregate per rule window,
	// regardless of how many ids are passed. Each id maps to its
	// aggregated metric value; ids with no data in the window map to
	// nil, as does every id when the segment is inactive.
	EvaluateColumn(ctx context.Context, segmentKey, entityKind string, entityIDs []string) (map[string]*float64, error)
}

type CreateRequest struct {
	Key        string `json:"key"`
	EntityKind string `json:"entity_kind"`
	Label      string `json:"label"`
	Rule       Rule   `json:"rule"`
}

type Response struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	EntityKind string    `json:"entity_kind"`
	Label      string    `json:"label"`
	Rule       Rule      `json:"rule"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

var (
	ErrInvalidKey        = errors.New("invalid_segment_key")
	ErrInvalidEntityKind = errors.New("invalid_entity_kind")
	ErrInvalidRule       = errors.New("invalid_segment_rule")
	ErrUnknownRuleKind   = errors.New("unknown_segment_rule_kind")
	ErrNotFound          = errors.New("segment_not_found")
)
