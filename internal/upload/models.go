package upload

import (
	"errors"
	"time"

	pointdomain "github.com/factline/factline/internal/point/domain"
)

const (
	StatusIngested = "ingested"
	StatusSkipped  = "skipped"

	ReasonSmallerFile = "existing_batch_is_larger_or_equal"
)

// Request carries one parsed upload. Points are already-normalized
// records; file parsing happens at the transport edge.
type Request struct {
	DataSourceID string
	FileName     string
	FileSize     int64
	Overwrite    bool
	SyncRunID    string
	Points       []pointdomain.PointInput
}

// Result is either an accepted ingest or a skip. A skip is a normal
// outcome, never an error.
type Result struct {
	Status           string     `json:"status"`
	Reason           string     `json:"reason,omitempty"`
	BatchID          string     `json:"batch_id,omitempty"`
	ReplacedBatchID  string     `json:"replaced_batch_id,omitempty"`
	ExistingBatchID  string     `json:"existing_batch_id,omitempty"`
	ExistingFileSize int64      `json:"existing_file_size,omitempty"`
	NewFileSize      int64      `json:"new_file_size,omitempty"`
	PointsIngested   int        `json:"points_ingested"`
	RangeStart       *time.Time `json:"range_start,omitempty"`
	RangeEnd         *time.Time `json:"range_end,omitempty"`
}

// Skipped reports whether the upload was rejected in favor of an
// existing batch.
func (r *Result) Skipped() bool {
	return r != nil && r.Status == StatusSkipped
}

var (
	ErrInvalidDataSourceID = errors.New("invalid_data_source_id")
	ErrInvalidFileName     = errors.New("invalid_file_name")
	ErrEmptyFile           = errors.New("empty_file")
)
