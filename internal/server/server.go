// Package server exposes the operator surface: health, status, Prometheus
// metrics, and manual breaker controls. It is read-mostly; the only
// mutations are the explicitly authenticated trip and reset endpoints.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quantfold/dexmaker/internal/breaker"
	"github.com/quantfold/dexmaker/internal/inventory"
	"github.com/quantfold/dexmaker/internal/lifecycle"
	"github.com/quantfold/dexmaker/internal/metrics"
	"github.com/quantfold/dexmaker/internal/oracle"
	"github.com/quantfold/dexmaker/internal/rugpull"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // if empty, the control endpoints are disabled
}

// Server is the operator HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger

	breaker *breaker.Breaker
	oracle  *oracle.Oracle
	monitor *rugpull.Monitor // may be nil
	ledger  *inventory.Ledger
	runners []*lifecycle.Runner
	apiKey  string
}

// New creates a Server with all routes registered.
func New(cfg Config, b *breaker.Breaker, o *oracle.Oracle, m *rugpull.Monitor, l *inventory.Ledger, runners []*lifecycle.Runner, logger *slog.Logger) *Server {
	s := &Server{
		logger:  logger.With(slog.String("component", "server")),
		breaker: b,
		oracle:  o,
		monitor: m,
		ledger:  l,
		runners: runners,
		apiKey:  cfg.APIKey,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/api/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/breaker", s.handleBreaker)
		r.Get("/accounts", s.handleAccounts)
		r.Get("/risk", s.handleRisk)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAPIKey)
			r.Post("/breaker/trip", s.handleTrip)
			r.Post("/breaker/reset", s.handleReset)
		})
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until the context is cancelled, then shuts the
// server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return ctx.Err()
}

// requireAPIKey guards the control endpoints with a bearer token. With no
// key configured the endpoints are disabled outright.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			writeError(w, http.StatusForbidden, "control endpoints disabled")
			return
		}
		got := r.Header.Get("Authorization")
		want := "Bearer " + s.apiKey
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
