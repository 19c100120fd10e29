// Package api implements the HTTP surface: auth, the streaming chat
// endpoint, and the session/canvas CRUD routes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oxleyk/canvas-agent/internal/agent"
	"github.com/oxleyk/canvas-agent/internal/auth"
	"github.com/oxleyk/canvas-agent/internal/buildinfo"
	"github.com/oxleyk/canvas-agent/internal/canvas"
	"github.com/oxleyk/canvas-agent/internal/chat"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	baseURL  string
	loop     *agent.Loop
	users    *auth.Store
	issuer   *auth.TokenIssuer
	sessions *chat.Store
	canvases *canvas.Store
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates the API server. baseURL is the externally visible
// URL used when building share links; empty derives one from the
// listen address.
func NewServer(address string, port int, baseURL string, loop *agent.Loop, users *auth.Store, issuer *auth.TokenIssuer, sessions *chat.Store, canvases *canvas.Store, logger *slog.Logger) *Server {
	if baseURL == "" {
		host := address
		if host == "" {
			host = "localhost"
		}
		baseURL = fmt.Sprintf("http://%s:%d", host, port)
	}
	return &Server{
		address:  address,
		port:     port,
		baseURL:  baseURL,
		loop:     loop,
		users:    users,
		issuer:   issuer,
		sessions: sessions,
		canvases: canvases,
		logger:   logger,
	}
}

// routes builds the full handler tree. Auth endpoints and health
// checks are public; everything else requires a bearer token.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/auth/register", s.handleRegister)
	mux.HandleFunc("POST /v1/auth/login", s.handleLogin)

	mux.Handle("POST /v1/chat", s.authed(s.handleChat))
	mux.Handle("GET /v1/chat/ws", s.authed(s.handleChatWS))

	mux.Handle("GET /v1/chats", s.authed(s.handleSessionList))
	mux.Handle("GET /v1/chats/{id}/messages", s.authed(s.handleSessionMessages))
	mux.Handle("DELETE /v1/chats/{id}", s.authed(s.handleSessionDelete))

	mux.Handle("GET /v1/canvases", s.authed(s.handleCanvasList))
	mux.Handle("GET /v1/canvases/public", s.authed(s.handleCanvasListPublic))
	mux.Handle("GET /v1/canvases/{id}", s.authed(s.handleCanvasGet))
	mux.Handle("PATCH /v1/canvases/{id}/visibility", s.authed(s.handleCanvasVisibility))
	mux.Handle("DELETE /v1/canvases/{id}", s.authed(s.handleCanvasDelete))
	mux.Handle("GET /v1/canvases/{id}/export", s.authed(s.handleCanvasExport))
	mux.Handle("GET /v1/canvases/{id}/qr", s.authed(s.handleCanvasQR))

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// authed wraps a handler with bearer-token authentication.
func (s *Server) authed(h http.HandlerFunc) http.Handler {
	return auth.Middleware(s.issuer, h)
}

// Start begins serving HTTP requests. Blocks until the listener fails
// or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Long for streaming responses
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "canvasd",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
