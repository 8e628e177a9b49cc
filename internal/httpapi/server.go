// Package httpapi serves the debug surface: health, the current
// aggregator snapshot, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tibberwatch/pkg/models"
)

// StatusSource provides the current snapshot and per-site sample ages.
type StatusSource interface {
	Snapshot() map[string]models.SiteStatus
	SampleAges() map[string]time.Duration
}

// Server is the debug HTTP endpoint.
type Server struct {
	source  StatusSource
	metrics http.Handler
	logger  *zap.Logger
	http    *http.Server
}

// NewServer builds the server on the given bind address.
func NewServer(bind string, source StatusSource, metricsHandler http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		source:  source,
		metrics: metricsHandler,
		logger:  logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         bind,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("debug http server starting", zap.String("bind", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("debug http server stopping")
	return s.http.Shutdown(ctx)
}

type statusResponse struct {
	Sites      map[string]models.SiteStatus `json:"sites"`
	SampleAges map[string]float64           `json:"sampleAgeSeconds"`
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	ages := make(map[string]float64)
	for site, age := range s.source.SampleAges() {
		ages[site] = age.Seconds()
	}

	resp := statusResponse{
		Sites:      s.source.Snapshot(),
		SampleAges: ages,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("writing status response", zap.Error(err))
	}
}
