// Package backfill replays NDJSON export files from a local directory
// into a factline server, validating file mappings up front so a
// partial run never writes unmapped data.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Link type under which export files are mapped to data sources.
const FileLinkType = "upload_file"

const (
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 30 * time.Second
)

type Config struct {
	BaseURL      string
	Token        string
	SourceID     string
	Dir          string
	Pattern      string
	Overwrite    bool
	DryRun       bool
	ValidateOnly bool
	Retries      int
}

func (c Config) validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("base url is required")
	}
	if strings.TrimSpace(c.SourceID) == "" {
		return errors.New("source id is required")
	}
	if strings.TrimSpace(c.Dir) == "" {
		return errors.New("directory is required")
	}
	return nil
}

const (
	OutcomeUploaded = "uploaded"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
	OutcomePlanned  = "planned"
)

type FileOutcome struct {
	File   string
	Status string
	Detail string
	Points int
}

type Report struct {
	Checked  int
	Outcomes []FileOutcome
}

func (r *Report) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			return true
		}
	}
	return false
}

type Runner struct {
	cfg    Config
	client *Client
	log    *zap.Logger

	sleep func(time.Duration)
}

func NewRunner(cfg Config, log *zap.Logger) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		client: NewClient(cfg.BaseURL, cfg.Token),
		log:    log.Named("backfill"),
		sleep:  time.Sleep,
	}, nil
}

// Run discovers files, validates their mappings and uploads them one
// by one. A single missing mapping aborts the whole run before any
// upload happens.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	pattern := r.cfg.Pattern
	if pattern == "" {
		pattern = "*.ndjson"
	}

	paths, err := filepath.Glob(filepath.Join(r.cfg.Dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad file pattern: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files match %s in %s", pattern, r.cfg.Dir)
	}
	sort.Strings(paths)

	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}

	missing, err := r.checkLinksWithRetry(ctx, names)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unmapped files, create links first: %s", strings.Join(missing, ", "))
	}

	report := &Report{Checked: len(paths)}
	if r.cfg.ValidateOnly {
		return report, nil
	}

	for _, path := range paths {
		report.Outcomes = append(report.Outcomes, r.processFile(ctx, path))
	}
	return report, nil
}

func (r *Runner) processFile(ctx context.Context, path string) FileOutcome {
	name := filepath.Base(path)
	if r.cfg.DryRun {
		return FileOutcome{File: name, Status: OutcomePlanned}
	}

	outcome, err := r.uploadWithRetry(ctx, path)
	if err != nil {
		r.log.Warn("upload failed", zap.String("file", name), zap.Error(err))
		return FileOutcome{File: name, Status: OutcomeFailed, Detail: err.Error()}
	}

	if outcome.StatusCode == http.StatusConflict || outcome.Result.Skipped() {
		return FileOutcome{
			File:   name,
			Status: OutcomeSkipped,
			Detail: outcome.Result.Reason,
		}
	}
	return FileOutcome{
		File:   name,
		Status: OutcomeUploaded,
		Points: outcome.Result.PointsIngested,
	}
}

// checkLinksWithRetry validates mappings before any upload. The call
// is read-only and cheap to repeat, so it carries a larger retry
// budget than uploads do.
func (r *Runner) checkLinksWithRetry(ctx context.Context, names []string) ([]string, error) {
	var missing []string
	err := r.retryTransient(ctx, 2*r.cfg.Retries+1, "links check", func() error {
		var err error
		missing, err = r.client.CheckLinks(ctx, FileLinkType, names)
		return err
	})
	if err != nil {
		return nil, err
	}
	return missing, nil
}

func (r *Runner) uploadWithRetry(ctx context.Context, path string) (*UploadOutcome, error) {
	var outcome *UploadOutcome
	err := r.retryTransient(ctx, r.cfg.Retries+1, "upload "+filepath.Base(path), func() error {
		var err error
		outcome, err = r.client.UploadFile(ctx, r.cfg.SourceID, path, r.cfg.Overwrite)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// retryTransient retries only transient upstream failures; real API
// errors surface immediately. The last transient error is returned
// once the budget runs out.
func (r *Runner) retryTransient(ctx context.Context, attempts int, label string, call func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			r.log.Info("retrying "+label,
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			r.sleep(delay)
		}

		err := call()
		if err == nil {
			return nil
		}

		var transient *transientError
		if !errors.As(err, &transient) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func retryDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(attempt+1)
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}
