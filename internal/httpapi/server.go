// Package httpapi exposes the mapping, batch, FHIR and operational
// surface over Echo v5.
package httpapi

import (
	"context"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tm2bridge/tm2bridge/internal/audit"
	"github.com/tm2bridge/tm2bridge/internal/cache"
	"github.com/tm2bridge/tm2bridge/internal/config"
	"github.com/tm2bridge/tm2bridge/internal/database"
	"github.com/tm2bridge/tm2bridge/internal/embedder"
	"github.com/tm2bridge/tm2bridge/internal/fhir"
	"github.com/tm2bridge/tm2bridge/internal/jobqueue"
	"github.com/tm2bridge/tm2bridge/internal/pipeline"
	"github.com/tm2bridge/tm2bridge/internal/ratelimit"
	"github.com/tm2bridge/tm2bridge/internal/store"
	"github.com/tm2bridge/tm2bridge/internal/whoprobe"
)

// Server wires the translation surface over Echo v5.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg      config.ServerConfig
	db       *database.Client
	store    store.Store
	caches   *cache.Caches
	limiter  *ratelimit.Limiter
	pipeline *pipeline.Pipeline
	jobs     *jobqueue.Queue
	fhir     *fhir.Facade
	auditRec *audit.Recorder
	probe    *whoprobe.Prober
	embedder embedder.Embedder
}

func NewServer(
	cfg config.ServerConfig,
	db *database.Client,
	st store.Store,
	caches *cache.Caches,
	limiter *ratelimit.Limiter,
	pl *pipeline.Pipeline,
	jobs *jobqueue.Queue,
	facade *fhir.Facade,
	auditRec *audit.Recorder,
	probe *whoprobe.Prober,
	emb embedder.Embedder,
) *Server {
	e := echo.New()
	s := &Server{
		echo:     e,
		cfg:      cfg,
		db:       db,
		store:    st,
		caches:   caches,
		limiter:  limiter,
		pipeline: pl,
		jobs:     jobs,
		fhir:     facade,
		auditRec: auditRec,
		probe:    probe,
		embedder: emb,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())
	s.echo.Use(requestID())
	s.echo.Use(s.auditMiddleware())

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/health/ready", s.readyHandler)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/mapping", s.rateLimited(s.limiter.Mapping, s.translateHandler))
	s.echo.GET("/mapping", s.rateLimited(s.limiter.Standard, s.listMappingsHandler))
	s.echo.GET("/mapping/export", s.rateLimited(s.limiter.Standard, s.exportMappingsHandler))
	s.echo.POST("/mapping/batch", s.rateLimited(s.limiter.Batch, s.batchSyncHandler))
	s.echo.POST("/mapping/batch/async", s.rateLimited(s.limiter.Batch, s.batchAsyncHandler))
	s.echo.GET("/mapping/batch/:id", s.rateLimited(s.limiter.Standard, s.batchStatusHandler))
	s.echo.GET("/mapping/batch/:id/results", s.rateLimited(s.limiter.Standard, s.batchResultsHandler))
	s.echo.DELETE("/mapping/batch/:id", s.rateLimited(s.limiter.Standard, s.batchCancelHandler))

	s.echo.GET("/autocomplete/source", s.rateLimited(s.limiter.Search, s.autocompleteSourceHandler))
	s.echo.GET("/autocomplete/target", s.rateLimited(s.limiter.Search, s.autocompleteTargetHandler))

	s.echo.GET("/fhir/metadata", s.fhirMetadataHandler)
	s.echo.GET("/fhir/CodeSystem/$lookup", s.rateLimited(s.limiter.Standard, s.fhirLookupHandler))
	s.echo.POST("/fhir/ConceptMap/$translate", s.rateLimited(s.limiter.Mapping, s.fhirTranslateHandler))
	s.echo.GET("/fhir/ValueSet/$expand", s.rateLimited(s.limiter.Search, s.fhirExpandHandler))

	s.echo.GET("/admin/cache/stats", s.adminCacheStatsHandler)
	s.echo.POST("/admin/cache/clear", s.adminCacheClearHandler)
	s.echo.GET("/admin/audit", s.adminAuditHandler)
	s.echo.GET("/admin/embeddings/stats", s.adminEmbeddingStatsHandler)
	s.echo.POST("/admin/embeddings/init", s.adminEmbeddingsInitHandler)
	s.echo.GET("/admin/rate-limit/stats", s.adminRateLimitStatsHandler)
	s.echo.GET("/admin/who-probe", s.adminWHOProbeHandler)
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown drains the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func requestIDFromContext(c *echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
