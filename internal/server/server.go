// Package server exposes the escrow over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"vote-escrow/internal/config"
	"vote-escrow/internal/escrow"
	"vote-escrow/internal/storage"
)

// Options wires the server.
type Options struct {
	Escrow   *escrow.Escrow
	Journal  storage.OperationStore
	Decimals int32
	Symbol   string
	Version  string
	// RateLimit is requests per second across all clients; zero disables limiting.
	RateLimit float64
	RateBurst int
	Logger    zerolog.Logger
}

// Server is the vecore HTTP API server.
type Server struct {
	escrow   *escrow.Escrow
	journal  storage.OperationStore
	decimals int32
	symbol   string
	version  string
	limiter  *rate.Limiter
	logger   zerolog.Logger
	router   chi.Router
	started  time.Time
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Escrow == nil {
		return nil, errors.New("server: escrow is required")
	}
	s := &Server{
		escrow:   opts.Escrow,
		journal:  opts.Journal,
		decimals: opts.Decimals,
		symbol:   opts.Symbol,
		version:  opts.Version,
		logger:   opts.Logger.With().Str("component", "http").Logger(),
		started:  time.Now(),
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/health", s.handleHealth)

		r.Get("/locks", s.handleListLocks)
		r.Post("/locks", s.handleCreateLock)
		r.Get("/locks/{id}", s.handleGetLock)
		r.Get("/locks/{id}/balance", s.handleLockBalance)
		r.Get("/locks/{id}/history", s.handleLockHistory)
		r.Get("/locks/{id}/uri", s.handleTokenURI)
		r.Post("/locks/{id}/increase", s.handleIncreaseAmount)
		r.Post("/locks/{id}/deposit", s.handleDepositFor)
		r.Post("/locks/{id}/extend", s.handleExtendLock)
		r.Post("/locks/{id}/withdraw", s.handleWithdraw)

		r.Get("/supply", s.handleSupply)
		r.Get("/epochs", s.handleEpoch)
		r.Get("/epochs/{seq}", s.handleGlobalPoint)
		r.Post("/checkpoint", s.handleCheckpoint)
		r.Get("/operations", s.handleOperations)
	})

	s.router = r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}

// Run listens on cfg.Listen until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      s,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", cfg.Listen).Msg("http server started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http server stopped")
	return ctx.Err()
}
