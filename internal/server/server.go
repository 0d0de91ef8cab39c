// Package server exposes the HTTP surface: the websocket upgrade
// endpoint, health, Prometheus metrics, and dashboard snapshot reads.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/creatorfi/pulse/internal/config"
	"github.com/creatorfi/pulse/internal/dashboard"
	"github.com/creatorfi/pulse/internal/hub"
)

// Server wraps the gin engine and its http.Server.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New builds the route table.
func New(cfg config.HTTPConfig, h *hub.Hub, cache *dashboard.Cache, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/ws", func(c *gin.Context) {
		h.ServeWS(c.Writer, c.Request)
	})

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api/v1")
	api.GET("/dashboard", func(c *gin.Context) {
		c.JSON(http.StatusOK, cache.SnapshotAll())
	})
	api.GET("/dashboard/:series", func(c *gin.Context) {
		summary, ok := cache.Snapshot(c.Param("series"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown series"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// Start listens until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
