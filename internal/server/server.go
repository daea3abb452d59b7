package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/factline/factline/internal/catalog"
	catalogdomain "github.com/factline/factline/internal/catalog/domain"
	"github.com/factline/factline/internal/computed"
	"github.com/factline/factline/internal/config"
	"github.com/factline/factline/internal/drilldown"
	"github.com/factline/factline/internal/link"
	linkdomain "github.com/factline/factline/internal/link/domain"
	"github.com/factline/factline/internal/observability"
	obsmiddleware "github.com/factline/factline/internal/observability/logger"
	obsmetrics "github.com/factline/factline/internal/observability/metrics"
	obstracing "github.com/factline/factline/internal/observability/tracing"
	"github.com/factline/factline/internal/point"
	pointdomain "github.com/factline/factline/internal/point/domain"
	"github.com/factline/factline/internal/query"
	"github.com/factline/factline/internal/ratelimit"
	"github.com/factline/factline/internal/segment"
	segmentdomain "github.com/factline/factline/internal/segment/domain"
	"github.com/factline/factline/internal/upload"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	catalog.Module,
	link.Module,
	point.Module,
	upload.Module,
	query.Module,
	computed.Module,
	drilldown.Module,
	segment.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	genID  *snowflake.Node

	catalogSvc   catalogdomain.Service
	linkSvc      linkdomain.Service
	pointSvc     pointdomain.Service
	uploadSvc    upload.Service
	querySvc     query.Service
	drilldownSvc drilldown.Service
	segmentSvc   segmentdomain.Service

	obsMetrics    *obsmetrics.Metrics
	ingestLimiter *ratelimit.IngestLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	GenID        *snowflake.Node
	CatalogSvc   catalogdomain.Service
	LinkSvc      linkdomain.Service
	PointSvc     pointdomain.Service
	UploadSvc    upload.Service
	QuerySvc     query.Service
	DrilldownSvc drilldown.Service
	SegmentSvc   segmentdomain.Service

	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
	IngestLimiter *ratelimit.IngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		genID:         p.GenID,
		catalogSvc:    p.CatalogSvc,
		linkSvc:       p.LinkSvc,
		pointSvc:      p.PointSvc,
		uploadSvc:     p.UploadSvc,
		querySvc:      p.QuerySvc,
		drilldownSvc:  p.DrilldownSvc,
		segmentSvc:    p.SegmentSvc,
		obsMetrics:    p.ObsMetrics,
		ingestLimiter: p.IngestLimiter,
	}

	s.registerAPIRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.POST("/points/ingest", s.IngestRateLimit(), s.IngestPoints)
	api.POST("/uploads", s.IngestRateLimit(), s.UploadFile)

	api.POST("/query", s.RunQuery)
	api.POST("/query/batch", s.RunBatchQuery)
	api.POST("/drilldown", s.RunDrilldown)

	api.POST("/segments", s.CreateSegment)
	api.GET("/segments", s.ListSegments)
	api.GET("/segments/:key", s.GetSegment)
	api.POST("/segments/:key/evaluate", s.EvaluateSegment)
	api.POST("/segments/:key/evaluate-column", s.EvaluateSegmentColumn)

	api.POST("/links", s.CreateLink)
	api.GET("/links", s.ListLinks)
	api.POST("/links/check", s.CheckLinks)

	api.POST("/metrics-catalog", s.CreateMetricDefinition)
	api.GET("/metrics-catalog", s.ListMetricDefinitions)
	api.GET("/metrics-catalog/:key", s.GetMetricDefinition)

	api.POST("/data-sources", s.CreateDataSource)
	api.GET("/data-sources", s.ListDataSources)
	api.GET("/data-sources/:id", s.GetDataSource)
}
