// Package api serves the recognizer's status endpoints and a websocket feed
// of activities and fall alerts.
package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/activity.report/internal/httputil"
	"github.com/banshee-data/activity.report/internal/monitoring"
	"github.com/banshee-data/activity.report/internal/network"
	"github.com/banshee-data/activity.report/internal/pipeline"
	"github.com/banshee-data/activity.report/internal/version"
)

// StatsSource reports cumulative pipeline counters.
type StatsSource interface {
	Snapshot() network.Snapshot
}

// ActivitySource reports the most recent classification.
type ActivitySource interface {
	Latest() (pipeline.Result, bool)
}

// Info is the static configuration shown by /api/config.
type Info struct {
	WindowSize   int          `json:"window_size"`
	StepSize     int          `json:"step_size"`
	FallCooldown string       `json:"fall_cooldown"`
	Labels       []string     `json:"labels"`
	Source       string       `json:"source"`
	Build        version.Info `json:"build"`
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Stats    StatsSource
	Activity ActivitySource
	Hub      *Hub
	Timeline *Timeline
	Info     Info
	Logger   *zap.Logger
}

// Server exposes recognizer status over HTTP.
type Server struct {
	stats    StatsSource
	activity ActivitySource
	hub      *Hub
	timeline *Timeline
	info     Info
	logger   *zap.Logger
}

// NewServer creates a Server.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		stats:    cfg.Stats,
		activity: cfg.Activity,
		hub:      cfg.Hub,
		timeline: cfg.Timeline,
		info:     cfg.Info,
		logger:   monitoring.OrNop(cfg.Logger),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack passes through to the underlying writer so /ws upgrades work
// behind the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	logger = monitoring.OrNop(logger)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.Int("status", lrw.statusCode),
			zap.Float64("ms", float64(time.Since(start).Nanoseconds())/1e6),
		)
	})
}

// ServeMux returns the routes. /ws and /debug/activity are registered only
// when a hub or timeline is set.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/activity/latest", s.showLatestActivity)
	mux.HandleFunc("/api/config", s.showConfig)
	if s.hub != nil {
		mux.HandleFunc("/ws", s.hub.ServeWS)
	}
	if s.timeline != nil {
		mux.HandleFunc("/debug/activity", s.handleActivityChart)
	}
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	if err := httputil.WriteJSONOK(w, v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.stats == nil {
		httputil.ServiceUnavailable(w, "Stats not available")
		return
	}
	s.writeJSON(w, s.stats.Snapshot())
}

func (s *Server) showLatestActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.activity == nil {
		httputil.ServiceUnavailable(w, "Activity not available")
		return
	}
	latest, ok := s.activity.Latest()
	if !ok {
		httputil.NotFound(w, "No activity classified yet")
		return
	}
	s.writeJSON(w, latest)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	s.writeJSON(w, s.info)
}
