package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/factline/factline/internal/observability/logger"
	obsmetrics "github.com/factline/factline/internal/observability/metrics"
	"github.com/factline/factline/internal/ratelimit"
)

const rateLimitReasonSourceRate = "source-rate"

type ingestRateLimitKey struct {
	DataSource *struct {
		ID string `json:"id"`
	} `json:"dataSource"`
	Points []struct {
		DataSourceID string `json:"dataSourceId"`
	} `json:"points"`
}

// IngestRateLimit throttles writes per data source. With no limiter
// configured every request passes.
func (s *Server) IngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.ingestLimiter == nil || !s.ingestLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)
		sourceID := readIngestSource(c)

		res, err := s.ingestLimiter.AllowSource(ctx, sourceID)
		if err != nil {
			logger.FromContext(ctx).Warn("ingest rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			s.denyIngestRateLimit(c, endpoint, res)
			return
		}

		recordRateLimitAllowed(ctx, endpoint, s.obsMetrics)
		c.Next()
	}
}

func (s *Server) denyIngestRateLimit(c *gin.Context, endpoint string, res *ratelimit.Result) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("ingest rate limit exceeded",
		zap.String("reason", rateLimitReasonSourceRate),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, rateLimitReasonSourceRate, s.obsMetrics)

	retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", rateLimitReasonSourceRate)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitAllowed(ctx context.Context, endpoint string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)
}

// readIngestSource finds the data source id without consuming the
// request body. Multipart uploads carry it as a form field; JSON
// ingests carry it in the payload.
func readIngestSource(c *gin.Context) string {
	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "multipart/form-data") {
		return strings.TrimSpace(c.PostForm("data_source_id"))
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return ""
	}

	var payload ingestRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.DataSource != nil {
		if id := strings.TrimSpace(payload.DataSource.ID); id != "" {
			return id
		}
	}
	for _, p := range payload.Points {
		if id := strings.TrimSpace(p.DataSourceID); id != "" {
			return id
		}
	}
	return ""
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
