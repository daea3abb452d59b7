package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	linkdomain "github.com/factline/factline/internal/link/domain"
)

func (s *Server) CreateLink(c *gin.Context) {
	var req linkdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.linkSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListLinks(c *gin.Context) {
	var query struct {
		LinkType string `form:"link_type"`
		LinkID   string `form:"link_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if linkID := strings.TrimSpace(query.LinkID); linkID != "" {
		resp, err := s.linkSvc.Get(c.Request.Context(), query.LinkType, linkID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": []any{resp}})
		return
	}

	resp, err := s.linkSvc.List(c.Request.Context(), query.LinkType)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type checkLinksRequest struct {
	LinkType string   `json:"link_type"`
	LinkIDs  []string `json:"link_ids"`
}

// CheckLinks reports which ids have no mapping yet. Callers validate a
// whole manifest before pushing any data.
func (s *Server) CheckLinks(c *gin.Context) {
	var req checkLinksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	missing, err := s.linkSvc.CheckMissing(c.Request.Context(), req.LinkType, req.LinkIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"missing": missing,
		"ok":      len(missing) == 0,
	})
}
