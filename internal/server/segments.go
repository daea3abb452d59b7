package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	segmentdomain "github.com/factline/factline/internal/segment/domain"
)

func (s *Server) CreateSegment(c *gin.Context) {
	var req segmentdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.segmentSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListSegments(c *gin.Context) {
	resp, err := s.segmentSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSegment(c *gin.Context) {
	resp, err := s.segmentSvc.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type evaluateSegmentRequest struct {
	EntityKind string `json:"entityKind"`
	EntityID   string `json:"entityId"`
}

func (s *Server) EvaluateSegment(c *gin.Context) {
	var req evaluateSegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.EntityID) == "" {
		AbortWithError(c, newValidationError("entityId", "invalid_entity_id", "entityId is required"))
		return
	}

	match, err := s.segmentSvc.Evaluate(c.Request.Context(), c.Param("key"), req.EntityKind, req.EntityID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"matches": match})
}

type evaluateColumnRequest struct {
	EntityKind string   `json:"entityKind"`
	EntityIDs  []string `json:"entityIds"`
}

func (s *Server) EvaluateSegmentColumn(c *gin.Context) {
	var req evaluateColumnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.EntityIDs) == 0 {
		AbortWithError(c, newValidationError("entityIds", "invalid_entity_ids", "entityIds is required"))
		return
	}

	values, err := s.segmentSvc.EvaluateColumn(c.Request.Context(), c.Param("key"), req.EntityKind, req.EntityIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"values": values})
}
