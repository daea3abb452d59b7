package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/factline/factline/internal/config"
)

const (
	keyIngestSource = "factline:ingest:source:%s"
	keyUploadLock   = "factline:upload:lock:%s:%s"

	uploadLockTTL = time.Minute
)

// IngestLimiter throttles point writes per data source and serializes
// uploads of the same file. Nil when rate limiting is disabled; every
// method on a nil limiter allows.
type IngestLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	ingestRate  float64
	ingestBurst int
}

func NewIngestLimiter(cfg config.Config) (*IngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.IngestRate <= 0 || limitCfg.IngestBurst <= 0 {
		return nil, errors.New("ingest rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &IngestLimiter{
		enabled:     true,
		bucket:      NewTokenBucket(client),
		locker:      NewLocker(client),
		ingestRate:  limitCfg.IngestRate,
		ingestBurst: limitCfg.IngestBurst,
	}, nil
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowSource takes one ingest token for the data source.
func (l *IngestLimiter) AllowSource(ctx context.Context, dataSourceID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyIngestSource, strings.TrimSpace(dataSourceID))
	return l.bucket.Allow(ctx, key, l.ingestRate, l.ingestBurst)
}

// TryLockUpload claims the (source, file) pair so two uploads of the
// same file cannot race their replace decisions.
func (l *IngestLimiter) TryLockUpload(ctx context.Context, dataSourceID, fileName string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	key := fmt.Sprintf(keyUploadLock, strings.TrimSpace(dataSourceID), strings.TrimSpace(fileName))
	return l.locker.TryLock(ctx, key, uploadLockTTL)
}

func (l *IngestLimiter) ReleaseUpload(ctx context.Context, dataSourceID, fileName, token string) error {
	if !l.Enabled() {
		return nil
	}
	key := fmt.Sprintf(keyUploadLock, strings.TrimSpace(dataSourceID), strings.TrimSpace(fileName))
	return l.locker.Release(ctx, key, token)
}
