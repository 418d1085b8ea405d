package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"hotline-server/pkg/metrics"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server hosts the media-stream endpoint, the UI hub, health, and metrics.
type Server struct {
	logger *logrus.Logger
	config ServerConfig
	hub    *TranscriptionHub
	server *http.Server

	startedAt time.Time
	sessions  interface{ Count() int }
}

// NewServer creates the HTTP server. streamHandler terminates media-stream
// connections; sessions reports how many calls are live for health output.
func NewServer(config ServerConfig, streamHandler http.Handler, hub *TranscriptionHub, sessions interface{ Count() int }, logger *logrus.Logger) *Server {
	if config.Address == "" {
		config.Address = ":8080"
	}

	s := &Server{
		logger:    logger,
		config:    config,
		hub:       hub,
		startedAt: time.Now(),
		sessions:  sessions,
	}

	mux := http.NewServeMux()
	mux.Handle("/stream", streamHandler)
	mux.HandleFunc("/ws", hub.ServeWs)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.server = &http.Server{
		Addr:    config.Address,
		Handler: mux,
		// WebSocket connections are long-lived; only bound the write side
		// for the plain HTTP endpoints when configured.
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.WithField("address", s.config.Address).Info("HTTP server listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	ActiveSessions int    `json:"active_sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.sessions != nil {
		resp.ActiveSessions = s.sessions.Count()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
