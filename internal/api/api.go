// Package api serves the read-only HTTP surface: topology snapshots,
// ingest session stats, and Prometheus metrics. Mutations go through the
// control plane, never through HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/weave/internal/ingest"
	"github.com/zsiec/weave/internal/pipeline"
)

// Server wraps the HTTP API with its dependencies.
type Server struct {
	log      *slog.Logger
	router   *gin.Engine
	mgr      *pipeline.Manager
	registry *ingest.Registry
}

// New creates the HTTP API server. If log is nil, slog.Default() is used.
func New(mgr *pipeline.Manager, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		log:      log.With("component", "api"),
		mgr:      mgr,
		registry: registry,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/state", s.handleState)
		api.GET("/sessions", s.handleSessions)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router = router
}

// Handler returns the underlying HTTP handler, used by tests and by the
// entry point to mount the server.
func (s *Server) Handler() http.Handler { return s.router }

// Run starts the HTTP server on addr, blocking.
func (s *Server) Run(addr string) error {
	s.log.Info("listening", "addr", addr)
	return s.router.Run(addr)
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"time":    time.Now().Unix(),
	})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.State())
}

func (s *Server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.registry.Stats()})
}
