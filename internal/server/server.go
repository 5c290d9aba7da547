// Package server implements the dcap sync/lock server: document mutations,
// the advisory lock protocol, and the per-document change feed the lock
// manager subscribes to.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nadia/dcap/internal/serverdb"
)

// Config holds server settings.
type Config struct {
	ListenAddr string
	DBPath     string
	// APIKey, when non-empty, is required as a bearer token on /v1 routes.
	APIKey string
}

// Server is the HTTP server for dcap clients.
type Server struct {
	config Config
	http   *http.Server
	store  *serverdb.ServerDB
	hub    *Hub
	ln     net.Listener
}

// New creates a Server around an open store.
func New(cfg Config, store *serverdb.ServerDB) *Server {
	s := &Server{
		config: cfg,
		store:  store,
		hub:    NewHub(),
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	slog.Info("server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address, useful when ListenAddr used port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.config.ListenAddr
	}
	return s.ln.Addr().String()
}

// Shutdown gracefully stops the server and closes all change-feed streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	return s.http.Shutdown(ctx)
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Documents
	mux.HandleFunc("POST /v1/documents", s.requireAuth(s.handleCreateDocument))
	mux.HandleFunc("GET /v1/documents/{id}", s.requireAuth(s.handleGetDocument))
	mux.HandleFunc("PATCH /v1/documents/{id}/metadata", s.requireAuth(s.handleUpdateMetadata))
	mux.HandleFunc("POST /v1/documents/{id}/validate", s.requireAuth(s.handleValidate))
	mux.HandleFunc("POST /v1/documents/{id}/comments", s.requireAuth(s.handleAddComment))
	mux.HandleFunc("PATCH /v1/documents/{id}/status", s.requireAuth(s.handleUpdateStatus))

	// Advisory locks
	mux.HandleFunc("POST /v1/documents/{id}/lock", s.requireAuth(s.handleAcquireLock))
	mux.HandleFunc("PATCH /v1/documents/{id}/lock", s.requireAuth(s.handleRenewLock))
	mux.HandleFunc("DELETE /v1/documents/{id}/lock", s.requireAuth(s.handleReleaseLock))
	mux.HandleFunc("GET /v1/documents/{id}/lock", s.requireAuth(s.handleGetLock))

	// Change feed (auth carried in the query string; browsers cannot set
	// websocket headers)
	mux.HandleFunc("GET /v1/changes", s.handleChanges)

	// Advisory processor trigger
	mux.HandleFunc("POST /v1/process", s.requireAuth(s.handleProcess))

	return chain(mux, recoveryMiddleware, loggingMiddleware, maxBytesMiddleware(1<<20))
}

// handleHealth returns a health check response, pinging the store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAuth enforces the bearer API key when one is configured.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey != "" && bearerToken(r) != s.config.APIKey {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid API key")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	// Websocket clients pass the key as a query parameter instead.
	return r.URL.Query().Get("key")
}
