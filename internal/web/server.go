// Package web exposes the gateway over a JSON HTTP API with a WebSocket
// event stream.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"benchlink/internal/gateway"
	"benchlink/internal/sequence"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithSequences sets the measurement sequence engine.
func WithSequences(engine *sequence.Engine) ServerOption {
	return func(s *Server) {
		s.sequences = engine
	}
}

// WithVersion sets the application version string reported by the API.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server for the gateway API.
type Server struct {
	gw             *gateway.Gateway
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	sequences      *sequence.Engine
	version        string
	unsubEvents    func()
}

// NewServer creates a new web server.
func NewServer(gw *gateway.Gateway, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		gw:     gw,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)

	// Broadcast every gateway event to WebSocket clients.
	s.unsubEvents = gw.Events().Subscribe(s.wsHub.Broadcast)

	s.routes()
	return s
}

// Stop detaches from the event bus and shuts down the WebSocket hub.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/version", s.handleVersion)

	s.mux.HandleFunc("GET /api/settings", s.handleListSettings)
	s.mux.HandleFunc("GET /api/settings/{name}", s.handleGetSetting)
	s.mux.HandleFunc("POST /api/settings/{name}", s.handleSetSetting)

	s.mux.HandleFunc("POST /api/measure", s.handleMeasure)
	s.mux.HandleFunc("GET /api/readings", s.handleListReadings)
	s.mux.HandleFunc("GET /api/buffer", s.handleFetchBuffer)

	s.mux.HandleFunc("GET /api/profiles", s.handleListProfiles)
	s.mux.HandleFunc("POST /api/profiles", s.handleSaveProfile)
	s.mux.HandleFunc("GET /api/profiles/{name}", s.handleGetProfile)
	s.mux.HandleFunc("DELETE /api/profiles/{name}", s.handleDeleteProfile)
	s.mux.HandleFunc("POST /api/profiles/{name}/apply", s.handleApplyProfile)

	s.mux.HandleFunc("GET /api/sequences", s.handleListSequences)
	s.mux.HandleFunc("POST /api/sequences/run", s.handleRunSequence)
	s.mux.HandleFunc("POST /api/sequences/{id}/run", s.handleRunNamedSequence)

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying API key auth on /api/.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
