// Package api exposes the service facade and the task history over HTTP
// with gin. Routes live under /api/v1.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/0x6d61/warden/internal/service"
)

// Config configures the HTTP server.
type Config struct {
	Addr         string
	Mode         string // gin mode: debug, release or test
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
	// NoBackup makes fix requests that omit "backup" skip the backup.
	NoBackup bool
}

// Server serves the API.
type Server struct {
	cfg    Config
	svc    *service.Service
	logger *slog.Logger
	engine *gin.Engine
}

// New builds the router. A nil logger discards.
func New(cfg Config, svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	s := &Server{cfg: cfg, svc: svc, logger: logger}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)

	v1 := s.engine.Group("/api/v1")
	{
		plugins := v1.Group("/plugins")
		plugins.GET("", s.handleListPlugins)
		plugins.POST("/:name/analyze", s.handleAnalyze)
		plugins.POST("/:name/fix", s.handleFix)
		plugins.POST("/:name/autofix", s.handleAutoFix)
		plugins.POST("/:name/restart", s.handleRestart)
		plugins.POST("/:name/attack", s.handleAttack)
		plugins.POST("/:name/reload", s.handleReload)

		v1.GET("/fixers/:service", s.handleFindFixer)

		history := v1.Group("/history")
		history.GET("", s.handleListHistory)
		history.GET("/:id", s.handleGetHistory)
		history.DELETE("/:id", s.handleDeleteHistory)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client", c.ClientIP(),
		)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	s.logger.Info("api server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}
