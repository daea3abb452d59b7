package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/factline/factline/internal/drilldown"
	"github.com/factline/factline/internal/query"
)

func (s *Server) RunQuery(c *gin.Context) {
	var req query.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.querySvc.Query(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RunBatchQuery always answers 200; per-slot failures come back inside
// the matching result slot.
func (s *Server) RunBatchQuery(c *gin.Context) {
	var reqs []query.Request
	if err := c.ShouldBindJSON(&reqs); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(reqs) == 0 {
		AbortWithError(c, newValidationError("queries", "empty_batch", "at least one query is required"))
		return
	}

	results := s.querySvc.BatchQuery(c.Request.Context(), reqs)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) RunDrilldown(c *gin.Context) {
	var req drilldown.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.drilldownSvc.Resolve(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
