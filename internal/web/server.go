// Package web serves a heap file over HTTP.
//
// The server uses the chi router with the usual middleware stack (request
// ids, real client IPs, request logging, panic recovery and timeouts) and
// exposes a small JSON API for inserting, reading and deleting records and
// for inspecting pages and the free-space map.

package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

// Server represents the HTTP server for a heap file.
type Server struct {
	router *chi.Mux
	port   int
	store  *Store
	logger *slog.Logger
}

// NewServer creates a new HTTP server with the given port and store.
// If store is nil, API routes answer 503.
func NewServer(port int, store *Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	s := &Server{
		router: r,
		port:   port,
		store:  store,
		logger: logger,
	}

	s.routes()
	return s
}

// routes sets up all HTTP routes for the server.
func (s *Server) routes() {
	s.router.Get("/", s.handleIndex)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(WithStore(s.store))
		r.Use(RequireStore)

		r.Get("/stats", s.handleStats)
		r.Get("/fsm", s.handleFreeSpaceMap)
		r.Post("/sync", s.handleSync)
		r.Post("/repair", s.handleRepair)

		r.Get("/pages/{page}", s.handlePageInfo)
		r.Post("/pages/{page}/compact", s.handleCompactPage)

		r.Post("/records", s.handleInsertRecord)
		r.Get("/records/{page}/{slot}", s.handleGetRecord)
		r.Delete("/records/{page}/{slot}", s.handleDeleteRecord)
	})
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Run starts the HTTP server and blocks until ctx is cancelled, SIGINT or
// SIGTERM arrives, or the listener fails. In-flight requests get five seconds
// to finish.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting server", "port", s.port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		s.logger.Info("server stopped")
		return nil
	})

	return g.Wait()
}
