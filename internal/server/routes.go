// Package server wires the HTTP transport: route registration, middleware
// ordering, and graceful shutdown — grounded on frnd1406-NasServer's
// server/server.go gin.Engine bootstrap and router-group layout.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/vanta-vault/vanta/internal/config"
	"github.com/vanta-vault/vanta/internal/handlers"
	"github.com/vanta-vault/vanta/internal/ratelimit"
	"github.com/vanta-vault/vanta/internal/session"
	"github.com/vanta-vault/vanta/internal/vault"
)

// Server owns the gin engine and the underlying http.Server, wiring every
// route to its handler with the gate and rate limiter applied exactly
// where spec.md §6 requires.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	log    *logrus.Logger
}

// New builds the engine and registers every route.
func New(cfg *config.Config, v *vault.Vault, h *handlers.Handlers, log *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	gate := session.Gate(v)
	unlockLimiter := ratelimit.New(0.1, cfg.UnlockRateLimitBurst, 10*time.Minute)

	api := engine.Group("/api")
	{
		api.GET("/status", h.Status)
		api.GET("/healthz", h.Healthz)
		api.POST("/setup", h.Setup)
		api.POST("/unlock", unlockLimiter.Middleware(), h.Unlock)

		authed := api.Group("")
		authed.Use(gate)
		{
			authed.POST("/lock", h.Lock)
			authed.POST("/logout", h.Lock)
			authed.POST("/panic", h.Panic)

			authed.GET("/images", h.ListImages)
			authed.POST("/upload", h.Upload)
			authed.DELETE("/images/:id", h.DeleteImage)
			authed.POST("/images/:id/tags", h.AddTag)
			authed.DELETE("/images/:id/tags", h.RemoveTag)
			authed.GET("/images/:id/download", h.Download)
			authed.GET("/images/:id/:variant", h.GetVariant)

			authed.POST("/images/:id/linked", h.AttachLinked)
			authed.DELETE("/images/:id/linked/:sub", h.DetachLinked)
			authed.GET("/images/:id/linked/:sub/:variant", h.GetLinkedVariant)

			authed.GET("/tags", h.ListTags)
			authed.POST("/tags/rename", h.RenameTagHandler)
		}
	}

	return &Server{
		engine: engine,
		http:   &http.Server{Addr: cfg.BindAddr, Handler: engine},
		log:    log,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithFields(logrus.Fields{"addr": s.http.Addr}).Info("listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown: %w", err)
		}
		return nil
	}
}
