package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	pointdomain "github.com/factline/factline/internal/point/domain"
)

func (s *Server) IngestPoints(c *gin.Context) {
	var req pointdomain.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if key := firstMetricKey(req.Points); key != "" {
		c.Set("metric_key", key)
	}

	result, err := s.pointSvc.Ingest(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func firstMetricKey(points []pointdomain.PointInput) string {
	for _, p := range points {
		if key := strings.TrimSpace(p.MetricKey); key != "" {
			return key
		}
	}
	return ""
}
