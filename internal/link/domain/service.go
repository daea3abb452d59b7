package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Get(ctx context.Context, linkType, linkID string) (*Response, error)
	List(ctx context.Context, linkType string) ([]Response, error)
	// CheckMissing reports which of linkIDs have no mapping row, in
	// input order.
	CheckMissing(ctx context.Context, linkType string, linkIDs []string) ([]string, error)
}

type CreateRequest struct {
	LinkType   string         `json:"link_type"`
	LinkID     string         `json:"link_id"`
	TargetKind string         `json:"target_kind"`
	TargetID   string         `json:"target_id"`
	Metadata   map[string]any `json:"metadata"`
}

type Response struct {
	ID         string         `json:"id"`
	LinkType   string         `json:"link_type"`
	LinkID     string         `json:"link_id"`
	TargetKind string         `json:"target_kind,omitempty"`
	TargetID   string         `json:"target_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

var (
	ErrInvalidLinkType = errors.New("invalid_link_type")
	ErrInvalidLinkID   = errors.New("invalid_link_id")
	ErrNotFound        = errors.New("link_not_found")
)
