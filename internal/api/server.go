package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mainteno/fieldsync/internal/idempotency"
	"github.com/mainteno/fieldsync/internal/serverdb"
)

// Server is the HTTP API server for fieldsync-server.
type Server struct {
	config Config
	http   *http.Server
	store  *serverdb.ServerDB
	idem   *idempotency.Store
}

// NewServer creates a Server with the given config and document store.
func NewServer(cfg Config, store *serverdb.ServerDB) *Server {
	s := &Server{
		config: cfg,
		store:  store,
		idem:   idempotency.NewStore(cfg.IdempotencyTTL),
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Routes(),
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

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Routes builds the HTTP handler with all routes and middleware. Exposed so
// tests can mount it on an httptest server.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Data plane: opaque documents, tenant-scoped. Mutations run through the
	// idempotency layer so replayed deliveries collapse to one application.
	mux.HandleFunc("GET /v1/data/{path...}", s.requireTenant(s.handleGet))
	mux.HandleFunc("POST /v1/data/{path...}", s.requireTenant(s.withIdempotency(s.handleCreate)))
	mux.HandleFunc("PUT /v1/data/{path...}", s.requireTenant(s.withIdempotency(s.handleUpdate)))
	mux.HandleFunc("DELETE /v1/data/{path...}", s.requireTenant(s.withIdempotency(s.handleDelete)))

	mux.HandleFunc("GET /v1/status", s.requireTenant(s.handleTenantStatus))

	return chain(mux, recoveryMiddleware, loggingMiddleware, maxBytesMiddleware(10<<20))
}

// handleHealth returns a health check response, pinging the document store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
