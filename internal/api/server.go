// Package api exposes the HTTP interface for the harvest service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pdfharvest/pdfharvest/internal/config"
	"github.com/pdfharvest/pdfharvest/internal/harvest"
)

// RunController is the slice of the harvest controller the API needs.
type RunController interface {
	Start(fields []harvest.FieldRequest, opts ...harvest.RunOption) (string, error)
	Stop() error
	Resume() error
	Status() harvest.Snapshot
}

// Server wires HTTP handlers to the run controller.
type Server struct {
	router     chi.Router
	controller RunController
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(controller RunController, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		controller: controller,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Post("/start-download", s.startDownload)
		r.Post("/stop-download", s.stopDownload)
		r.Post("/resume-download", s.resumeDownload)
		r.Get("/download-status", s.downloadStatus)
		r.Get("/fields", s.listFields)
		r.Get("/downloads", s.listDownloads)
		r.Get("/downloads/{field}/{keyword}/{file}", s.serveDownload)
		r.Get("/config", s.showConfig)
		r.Get("/health", s.health)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"download_running": s.controller.Status().IsRunning,
	})
}
