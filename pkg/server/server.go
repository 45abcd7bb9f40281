// Package server provides the HTTP gateway of the pipeline: upload URL
// issuance, search submission, approval decisions and the status event
// stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/EducloudHQ/video-agent-nova-embeddings/config"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/eventbus"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/service"
)

// Server is the HTTP gateway.
type Server struct {
	service  service.Service
	eventBus eventbus.EventBusI
	config   *config.ServerConfig
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	svc service.Service,
	bus eventbus.EventBusI,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		service:  svc,
		eventBus: bus,
		config:   cfg,
		logger:   logger,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Post("/v1/upload-urls", s.handleIssueUploadURL)
	r.Post("/v1/searches", s.handleSubmitSearch)
	r.Get("/v1/searches/{requestID}", s.handleGetSearch)
	r.Post("/v1/approvals", s.handleResolveApproval)
	r.Get("/v1/approvals/overdue", s.handleListOverdueApprovals)
	r.Get("/v1/jobs", s.handleGetIngestStatus)
	r.Get("/v1/jobs/{jobUID}", s.handleGetJob)
	r.Get("/v1/events", s.handleEventStream)
	r.Get("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
		// No write timeout: /v1/events holds the response open for the
		// lifetime of the subscription.
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
