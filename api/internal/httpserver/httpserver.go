package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tick-relay/api/internal/config"
	"tick-relay/api/internal/handle"
)

type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

func New(cfg *config.Config, h *handle.Handle, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		httpServer: &http.Server{
			Addr:    cfg.Addr(),
			Handler: NewRouter(h, cfg.Server.CORSAllowOrigins, log),
			// No read/write timeouts: classification waits on the provider for as long as it takes.
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		log: log,
	}
	log.Info("server created", zap.String("address", s.httpServer.Addr))
	return s
}

// NewRouter builds the gin engine with middleware and routes.
func NewRouter(h *handle.Handle, origins []string, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		handle.RequestIDMiddleware(),
		handle.AccessLog(log),
		handle.Recovery(log),
		cors.New(corsConfig(origins)),
	)

	router.POST("/detect-tick", h.DetectTick)
	router.GET("/health", h.Health)
	router.GET("/healthz", h.Healthz)
	router.GET("/audit", h.Audit)
	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", handle.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", handle.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

// Run blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) Run() error {
	s.log.Info("server is running", zap.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}
