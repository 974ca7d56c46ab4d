package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "bci-monitor/pkg/errors"
	"bci-monitor/pkg/metrics"
	"bci-monitor/pkg/monitor"
	"bci-monitor/pkg/version"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	EnableMetrics  bool
	MetricsPath    string
	ShutdownPeriod time.Duration
}

func (c *ServerConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8765
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	// Write timeout stays zero so websocket connections are not cut off.
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.ShutdownPeriod <= 0 {
		c.ShutdownPeriod = 5 * time.Second
	}
}

// Server exposes the websocket stream, the REST endpoints and the
// metrics endpoint.
type Server struct {
	logger     *logrus.Logger
	config     ServerConfig
	hub        *Hub
	loop       *monitor.Loop
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates the HTTP server.
func NewServer(logger *logrus.Logger, config ServerConfig, hub *Hub, loop *monitor.Loop) *Server {
	config.applyDefaults()

	s := &Server{
		logger:    logger,
		config:    config,
		hub:       hub,
		loop:      loop,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/threshold", s.handleThreshold)
	if config.EnableMetrics {
		metrics.SetMetricsPath(config.MetricsPath)
		metrics.RegisterHandler(mux)
	}

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", config.Port),
		Handler:     mux,
		ReadTimeout: config.ReadTimeout,
	}

	return s
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.hub.Start()
	s.logger.WithField("addr", s.httpServer.Addr).Info("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully, disconnecting websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownPeriod)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if !s.loop.State().Connected() {
		status = "degraded"
	}

	writeJSON(w, code, map[string]interface{}{
		"status":           status,
		"version":          version.Version,
		"device_connected": s.loop.State().Connected(),
		"uptime_seconds":   int(time.Since(s.startTime).Seconds()),
		"clients":          s.hub.GetConnectedClients(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.loop.GetStats())
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]float64{
			"threshold": s.loop.State().Threshold(),
		})

	case http.MethodPost:
		var body struct {
			Threshold *float64 `json:"threshold"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Threshold == nil {
			apperrors.WriteError(w, apperrors.NewInvalidInput("threshold is required"))
			return
		}
		s.loop.State().SetThreshold(*body.Threshold)
		s.logger.WithField("threshold", s.loop.State().Threshold()).Info("Advisory threshold updated")
		writeJSON(w, http.StatusOK, map[string]float64{
			"threshold": s.loop.State().Threshold(),
		})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers already sent, nothing to do but note it.
		logrus.WithError(err).Debug("Failed to encode response")
	}
}
