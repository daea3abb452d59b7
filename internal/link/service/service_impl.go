package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	linkdomain "github.com/factline/factline/internal/link/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  linkdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  linkdomain.Repository
	genID *snowflake.Node
}

func New(p Params) linkdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("link.service"),
		repo:  p.Repo,
		genID: p.GenID,
	}
}

func (s *Service) Create(ctx context.Context, req linkdomain.CreateRequest) (*linkdomain.Response, error) {
	linkType := strings.TrimSpace(req.LinkType)
	if linkType == "" {
		return nil, linkdomain.ErrInvalidLinkType
	}
	linkID := strings.TrimSpace(req.LinkID)
	if linkID == "" {
		return nil, linkdomain.ErrInvalidLinkID
	}

	now := time.Now().UTC()
	link := &linkdomain.Link{
		ID:         s.genID.Generate(),
		LinkType:   linkType,
		LinkID:     linkID,
		TargetKind: strings.TrimSpace(req.TargetKind),
		TargetID:   strings.TrimSpace(req.TargetID),
		Metadata:   datatypes.JSONMap(req.Metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Upsert(ctx, s.db, link); err != nil {
		return nil, err
	}

	return toResponse(link), nil
}

func (s *Service) Get(ctx context.Context, linkType, linkID string) (*linkdomain.Response, error) {
	link, err := s.repo.Find(ctx, s.db, strings.TrimSpace(linkType), strings.TrimSpace(linkID))
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, linkdomain.ErrNotFound
	}
	return toResponse(link), nil
}

func (s *Service) List(ctx context.Context, linkType string) ([]linkdomain.Response, error) {
	links, err := s.repo.List(ctx, s.db, strings.TrimSpace(linkType))
	if err != nil {
		return nil, err
	}
	resp := make([]linkdomain.Response, 0, len(links))
	for i := range links {
		resp = append(resp, *toResponse(&links[i]))
	}
	return resp, nil
}

func (s *Service) CheckMissing(ctx context.Context, linkType string, linkIDs []string) ([]string, error) {
	linkType = strings.TrimSpace(linkType)
	if linkType == "" {
		return nil, linkdomain.ErrInvalidLinkType
	}

	ids := make([]string, 0, len(linkIDs))
	seen := make(map[string]bool, len(linkIDs))
	for _, id := range linkIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	existing, err := s.repo.ExistingIDs(ctx, s.db, linkType, ids)
	if err != nil {
		return nil, err
	}

	missing := make([]string, 0)
	for _, id := range ids {
		if !existing[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func toResponse(link *linkdomain.Link) *linkdomain.Response {
	return &linkdomain.Response{
		ID:         link.ID.String(),
		LinkType:   link.LinkType,
		LinkID:     link.LinkID,
		TargetKind: link.TargetKind,
		TargetID:   link.TargetID,
		Metadata:   map[string]any(link.Metadata),
		CreatedAt:  link.CreatedAt,
		UpdatedAt:  link.UpdatedAt,
	}
}
