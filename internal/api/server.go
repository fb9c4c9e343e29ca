// Package api exposes the drift service over REST/JSON.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftscope/backend/internal/clock"
	"github.com/driftscope/backend/internal/config"
	"github.com/driftscope/backend/internal/model"
	"github.com/driftscope/backend/internal/store"
)

// DriftDetector runs the on-demand detection pipeline.
type DriftDetector interface {
	DetectDrift(ctx context.Context, userID string, force bool) ([]*model.DriftEvent, error)
}

// EventStore is the drift-event query surface the API serves from.
type EventStore interface {
	GetByID(ctx context.Context, eventID string) (*model.DriftEvent, error)
	ListByUser(ctx context.Context, userID string, f store.EventFilter) ([]*model.DriftEvent, error)
	Acknowledge(ctx context.Context, eventID string, timestamp int64) (bool, error)
}

// JobStore is the scan-job query surface for monitoring endpoints.
type JobStore interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.ScanJob, error)
}

// Server wires the HTTP surface: health, on-demand detection, event
// queries, acknowledgement, job monitoring, and Prometheus metrics.
type Server struct {
	detector DriftDetector
	events   EventStore
	jobs     JobStore
	cfg      *config.Config
	clock    clock.Clock
	log      *slog.Logger
}

func NewServer(detector DriftDetector, events EventStore, jobs JobStore, cfg *config.Config, clk clock.Clock) *Server {
	return &Server{detector: detector, events: events, jobs: jobs, cfg: cfg, clock: clk, log: slog.Default()}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/detect/{user_id}", s.handleDetect).Methods("POST")
	r.HandleFunc("/events/{user_id}", s.handleListEvents).Methods("GET")
	r.HandleFunc("/events/{user_id}/{event_id}", s.handleGetEvent).Methods("GET")
	r.HandleFunc("/events/{user_id}/{event_id}/acknowledge", s.handleAcknowledge).Methods("POST")
	r.HandleFunc("/jobs/stats", s.handleJobStats).Methods("GET")
	r.HandleFunc("/jobs/{user_id}", s.handleListJobs).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         ":" + s.cfg.HTTPPort,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("[API] Listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("[API] Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
