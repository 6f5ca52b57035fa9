// Package server exposes the connector registry over HTTP: instance
// lifecycle, per-instance dispatch operations, and inbound webhook intake.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/connector/registry"
	"github.com/meridianhq/meridian/pkg/logger"
)

// Server is the HTTP dispatch surface over a connector registry
type Server struct {
	httpServer *http.Server
	registry   *registry.Registry
	cfg        *config.ServiceConfig
	logger     *zap.Logger
}

// New builds the server and its route tree
func New(cfg *config.ServiceConfig, reg *registry.Registry) *Server {
	s := &Server{
		registry: reg,
		cfg:      cfg,
		logger:   logger.Get().With(zap.String("component", "server")),
	}

	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(requestSizeLimitMiddleware(cfg.Server.MaxBodyBytes))
	r.Use(loggingMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/version", s.handleVersion)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/connectors", func(r chi.Router) {
			r.Post("/", s.handleCreateConnector)
			r.Get("/", s.handleListConnectors)

			r.Route("/{instanceID}", func(r chi.Router) {
				r.Get("/", s.handleGetConnector)
				r.Delete("/", s.handleDiscardConnector)
				r.Post("/authenticate", s.handleAuthenticate)
				r.Post("/publish", s.handlePublish)
				r.Post("/schedule", s.handleSchedule)
				r.Put("/content/{externalID}", s.handleUpdate)
				r.Delete("/content/{externalID}", s.handleDelete)
				r.Get("/content/{externalID}/insights", s.handleInsights)
			})
		})

		r.Post("/webhooks/{platform}/{instanceID}", s.handleWebhook)
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and discards all connector instances
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.registry.Close(shutdownCtx)
	return err
}

// Handler exposes the route tree, used by tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
