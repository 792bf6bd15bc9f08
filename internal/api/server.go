// Package api is the server's HTTP surface: the edge-facing ingestion
// endpoints (/events, /heartbeat) authenticated by device API key, and the
// client read/poll surface (/status, /logs, /alert, /control, /acknowledge)
// authenticated by bearer token. Every route sits behind a per-IP rate limit.
package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/config"
)

// Server is the securityd HTTP server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *zap.Logger

	submitter    Submitter
	logReader    LogReader
	statusSource StatusSource
	edge         EdgeCommander
	edgeTimeout  time.Duration

	deviceKeys   map[string]string
	clientTokens []string
}

// NewServer wires handlers, auth and rate limiting into one http.Server.
func NewServer(cfg *config.Server, submitter Submitter, logReader LogReader, statusSource StatusSource, edge EdgeCommander, logger *zap.Logger) *Server {
	s := &Server{
		mux:          http.NewServeMux(),
		logger:       logger,
		submitter:    submitter,
		logReader:    logReader,
		statusSource: statusSource,
		edge:         edge,
		edgeTimeout:  cfg.EdgeCallTimeout,
		deviceKeys:   cfg.DeviceAPIKeys,
		clientTokens: cfg.ClientTokens,
	}

	rl := NewRateLimiter(cfg.RateLimit, time.Minute)

	// Edge-facing ingestion surface.
	s.mux.HandleFunc("/events", rl.Middleware(methodOnly(http.MethodPost,
		s.requireDeviceKey(s.handleEvents))))
	s.mux.HandleFunc("/heartbeat", rl.Middleware(methodOnly(http.MethodPost,
		s.requireDeviceKey(s.handleHeartbeat))))

	// Client read/poll surface.
	s.mux.HandleFunc("/status", rl.Middleware(methodOnly(http.MethodGet,
		s.requireBearer(s.handleStatus))))
	s.mux.HandleFunc("/logs", rl.Middleware(methodOnly(http.MethodGet,
		s.requireBearer(s.handleLogs))))
	s.mux.HandleFunc("/alert", rl.Middleware(methodOnly(http.MethodPost,
		s.requireBearer(s.handleAlert))))
	s.mux.HandleFunc("/control", rl.Middleware(methodOnly(http.MethodPost,
		s.requireBearer(s.handleControl))))
	s.mux.HandleFunc("/acknowledge", rl.Middleware(methodOnly(http.MethodPost,
		s.requireBearer(s.handleAcknowledge))))

	// Unauthenticated liveness probe.
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.httpServer = &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        s.mux,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

// Handler exposes the routed mux, used by tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// StartInBackground serves on a goroutine, logging any terminal error.
func (s *Server) StartInBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
