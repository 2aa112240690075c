package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"chanrelay/internal/constants"
	"chanrelay/internal/metrics"
	"chanrelay/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// server exposes health, per-channel status, and metrics over HTTP.
type server struct {
	httpServer *http.Server
	scheduler  *service.Scheduler
	registry   *metrics.Registry
	logger     *logrus.Logger
}

func newServer(addr string, scheduler *service.Scheduler, registry *metrics.Registry, logger *logrus.Logger) *server {
	s := &server{
		scheduler: scheduler,
		registry:  registry,
		logger:    logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(constants.DefaultServerReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(constants.DefaultServerWriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second,
	}
	return s
}

// Run blocks serving HTTP until Shutdown is called.
func (s *server) Run() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Status server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Channels []service.ChannelStatus `json:"channels"`
	Degraded int                     `json:"degraded"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	channels := s.scheduler.StatusSnapshot()
	degraded := 0
	for _, ch := range channels {
		if ch.State == service.ChannelDegraded {
			degraded++
		}
	}
	s.writeJSON(w, statusResponse{Channels: channels, Degraded: degraded})
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.registry.GetSnapshot())
}

func (s *server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
