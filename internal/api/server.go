// Package api implements the HTTP front end: the conversation endpoints
// used by Home Assistant and other clients, a websocket chat, and a
// small management API over memory and tools.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nugget/jarvis/internal/connwatch"
	"github.com/nugget/jarvis/internal/memory"
	"github.com/nugget/jarvis/internal/tools"
)

// Conversations runs turns keyed by conversation ID.
type Conversations interface {
	Process(ctx context.Context, id, text string) string
	Reset(id string) bool
	Close(id string)
}

// Memory is the part of the memory store the management API exposes.
type Memory interface {
	Stats() (memory.Stats, error)
	Preferences() ([]memory.Preference, error)
	Preference(key string) (any, bool, error)
	SetPreference(key string, value any) error
	DeletePreference(key string) (bool, error)
}

// ToolLister lists registered tools.
type ToolLister interface {
	List() []*tools.Tool
}

// Health reports the status of watched services.
type Health interface {
	Statuses() []connwatch.Status
	Healthy() bool
}

// Config configures the listener.
type Config struct {
	Address        string
	Port           int
	AllowedOrigins []string
}

// Server is the HTTP API server.
type Server struct {
	cfg     Config
	agent   Conversations
	memory  Memory
	tools   ToolLister
	health  Health
	logger  *slog.Logger
	handler http.Handler
	server  *http.Server
}

// NewServer creates a new API server. memory, toolList and health may be
// nil; their endpoints then answer 503.
func NewServer(cfg Config, agent Conversations, mem Memory, toolList ToolLister, health Health, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		agent:  agent,
		memory: mem,
		tools:  toolList,
		health: health,
		logger: logger,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.withLogging)
	r.Use(middleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleHealth)

	// The websocket is long-lived and must not sit behind a request timeout.
	r.Get("/v1/ws", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(120 * time.Second))

		r.Post("/conversation", s.handleConversation)
		r.Post("/intent", s.handleIntent)

		r.Route("/v1", func(r chi.Router) {
			r.Post("/conversation/reset", s.handleConversationReset)
			r.Get("/memory/stats", s.handleMemoryStats)
			r.Get("/tools", s.handleTools)

			r.Get("/preferences", s.handlePreferenceList)
			r.Get("/preferences/{key}", s.handlePreferenceGet)
			r.Put("/preferences/{key}", s.handlePreferencePut)
			r.Delete("/preferences/{key}", s.handlePreferenceDelete)
		})
	})
	return r
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
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
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		level := slog.LevelInfo
		if r.URL.Path == "/health" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}
