package upload

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/factline/factline/internal/observability/metrics"
	pointdomain "github.com/factline/factline/internal/point/domain"
	pointservice "github.com/factline/factline/internal/point/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service interface {
	Resolve(ctx context.Context, req Request) (*Result, error)
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    pointdomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    pointdomain.Repository
	genID   *snowflake.Node
	metrics *obsmetrics.Metrics
}

func New(p Params) Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("upload.service"),
		repo:    p.Repo,
		genID:   p.GenID,
		metrics: p.Metrics,
	}
}

// Resolve decides whether the uploaded file supersedes the latest batch
// with the same name for the data source. A re-upload is accepted when
// no prior batch exists, overwrite is set, or the new file is strictly
// larger than the old one. Everything else is a skip with zero writes.
func (s *service) Resolve(ctx context.Context, req Request) (*Result, error) {
	dataSourceID := strings.TrimSpace(req.DataSourceID)
	if dataSourceID == "" {
		return nil, ErrInvalidDataSourceID
	}
	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		return nil, ErrInvalidFileName
	}
	if len(req.Points) == 0 {
		return nil, ErrEmptyFile
	}

	now := time.Now().UTC()
	records, err := pointservice.BuildRecords(s.genID, req.Points, req.SyncRunID, now)
	if err != nil {
		return nil, err
	}

	rangeStart, rangeEnd := coveredRange(records)

	prior, err := s.repo.LatestBatch(ctx, s.db, dataSourceID, fileName)
	if err != nil {
		return nil, err
	}

	if prior != nil && !req.Overwrite && req.FileSize <= prior.FileSize {
		s.log.Info("upload skipped",
			zap.String("data_source_id", dataSourceID),
			zap.String("file_name", fileName),
			zap.Int64("existing_size", prior.FileSize),
			zap.Int64("new_size", req.FileSize),
		)
		if s.metrics != nil {
			s.metrics.RecordUpload(ctx, StatusSkipped)
		}
		return &Result{
			Status:           StatusSkipped,
			Reason:           ReasonSmallerFile,
			ExistingBatchID:  prior.ID.String(),
			ExistingFileSize: prior.FileSize,
			NewFileSize:      req.FileSize,
		}, nil
	}

	batch := &pointdomain.IngestBatch{
		ID:           s.genID.Generate(),
		DataSourceID: dataSourceID,
		FileName:     fileName,
		FileSize:     req.FileSize,
		RangeStart:   rangeStart,
		RangeEnd:     rangeEnd,
		CreatedAt:    now,
	}
	for i := range records {
		records[i].IngestBatchID = batch.ID
	}

	var written int
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if prior != nil {
			if req.Overwrite {
				// Overwrite wipes the covered range for the source,
				// even points from other batches.
				if err := s.repo.DeleteRange(ctx, tx, dataSourceID, "", rangeStart, rangeEnd); err != nil {
					return err
				}
			} else if err := s.repo.DeleteBatchRange(ctx, tx, prior.ID, rangeStart, rangeEnd); err != nil {
				return err
			}
		}

		if err := s.repo.CreateBatch(ctx, tx, batch); err != nil {
			return err
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

	if s.metrics != nil {
		s.metrics.RecordUpload(ctx, StatusIngested)
	}

	result := &Result{
		Status:         StatusIngested,
		BatchID:        batch.ID.String(),
		NewFileSize:    req.FileSize,
		PointsIngested: written,
		RangeStart:     &rangeStart,
		RangeEnd:       &rangeEnd,
	}
	if prior != nil {
		result.ReplacedBatchID = prior.ID.String()
	}
	return result, nil
}

func coveredRange(records []pointdomain.MetricPoint) (time.Time, time.Time) {
	start := records[0].Date
	end := records[0].Date
	for i := range records[1:] {
		date := records[i+1].Date
		if date.Before(start) {
			start = date
		}
		if date.After(end) {
			end = date
		}
	}
	return start, end
}
