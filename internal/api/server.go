// Package api serves the operator-facing status endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"socialwall/internal/hub"
	"socialwall/internal/router"
	"socialwall/internal/session"
	"socialwall/pkg/types"
)

// HubReader is the part of the hub the API reads.
type HubReader interface {
	Stats() hub.Stats
	OnlineUsers(classID string) ([]types.User, error)
}

// HealthChecker reports store connectivity.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Admitter authenticates a session token and authorizes a class namespace.
// *session.Gatekeeper implements it.
type Admitter interface {
	Admit(ctx context.Context, token, namespace string) (types.User, string, error)
}

// Options configures credential lookup and CORS.
type Options struct {
	CookieName     string
	AllowedOrigins []string
}

// Server routes the status API.
type Server struct {
	hub     HubReader
	store   HealthChecker
	admit   Admitter
	opts    Options
	logger  *slog.Logger
	router  *http.ServeMux
	started time.Time
	now     func() time.Time
}

// NewServer builds the API routes. Class rosters are only served to users
// admit lets into the class.
func NewServer(h HubReader, store HealthChecker, admit Admitter, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		hub:     h,
		store:   store,
		admit:   admit,
		opts:    opts,
		logger:  logger,
		router:  http.NewServeMux(),
		started: time.Now(),
		now:     time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("GET /health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("GET /api/classes/{classId}/online", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.onlineUsers))))
	s.router.Handle("OPTIONS /api/", s.corsMiddleware(http.NotFoundHandler()))
}

// Register mounts the API on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("/health", s)
	mux.Handle("/api/", s)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Store     string         `json:"store"`
	Hub       hub.Stats      `json:"hub"`
	System    map[string]any `json:"system"`
}

type OnlineResponse struct {
	ClassID string       `json:"classId"`
	Count   int          `json:"count"`
	Users   []types.User `json:"users"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	storeStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		storeStatus = "error: " + err.Error()
		s.logger.Warn("store health check failed", "error", err)
	}

	stats := s.hub.Stats()
	if !stats.Running {
		status = "unhealthy"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: s.now().UTC(),
		Store:     storeStatus,
		Hub:       stats,
		System: map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     s.now().Sub(s.started).Round(time.Second).String(),
		},
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(response)
}

// GET /api/classes/{classId}/online
func (s *Server) onlineUsers(w http.ResponseWriter, r *http.Request) {
	classID := r.PathValue("classId")
	if !types.IsValidClassID(classID) {
		s.sendError(w, "Invalid class ID", http.StatusBadRequest)
		return
	}

	token := session.TokenFromRequest(r, s.opts.CookieName)
	if _, _, err := s.admit.Admit(r.Context(), token, router.NamespaceFor(classID)); err != nil {
		status := session.StatusCode(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("roster authorization failed", "class_id", classID, "error", err)
			s.sendError(w, "Failed to authorize request", status)
			return
		}
		s.sendError(w, err.Error(), status)
		return
	}

	users, err := s.hub.OnlineUsers(classID)
	if errors.Is(err, hub.ErrHubNotRunning) {
		s.sendError(w, "Realtime server is not running", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.logger.Error("listing online users failed", "class_id", classID, "error", err)
		s.sendError(w, "Failed to list online users", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []types.User{}
	}

	_ = json.NewEncoder(w).Encode(OnlineResponse{
		ClassID: classID,
		Count:   len(users),
		Users:   users,
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin, ok := s.allowOrigin(r); ok {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Add("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allowOrigin returns the Access-Control-Allow-Origin value for r. With no
// configured origins any origin is allowed.
func (s *Server) allowOrigin(r *http.Request) (string, bool) {
	if len(s.opts.AllowedOrigins) == 0 {
		return "*", true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" {
			return "*", true
		}
		if origin != "" && allowed == origin {
			return origin, true
		}
	}
	return "", false
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
