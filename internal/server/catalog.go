package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	catalogdomain "github.com/factline/factline/internal/catalog/domain"
)

func (s *Server) CreateMetricDefinition(c *gin.Context) {
	var req catalogdomain.MetricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.catalogSvc.CreateMetric(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListMetricDefinitions(c *gin.Context) {
	resp, err := s.catalogSvc.ListMetrics(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetMetricDefinition(c *gin.Context) {
	resp, err := s.catalogSvc.GetMetric(c.Request.Context(), c.Param("key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateDataSource(c *gin.Context) {
	var req catalogdomain.DataSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.catalogSvc.CreateDataSource(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListDataSources(c *gin.Context) {
	resp, err := s.catalogSvc.ListDataSources(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetDataSource(c *gin.Context) {
	resp, err := s.catalogSvc.GetDataSource(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
