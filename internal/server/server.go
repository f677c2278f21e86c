// Package server exposes the game API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"overunder/internal/engine"
	"overunder/internal/observability"
	"overunder/internal/storage"
	"overunder/internal/watcher"
)

// Starter opens games.
type Starter interface {
	Start(ctx context.Context, req engine.StartRequest) (*engine.StartResult, error)
}

// Applier resolves a client-reported signature into engine operations.
type Applier interface {
	Apply(ctx context.Context, signature string) ([]watcher.Applied, error)
}

// Options for creating a Server.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string

	Store   storage.Store
	Starter Starter
	Buys    Applier
	Sells   Applier
	Redeems Applier

	Logger *log.Logger
}

// Server is the HTTP API.
type Server struct {
	store   storage.Store
	starter Starter
	buys    Applier
	sells   Applier
	redeems Applier

	http   *http.Server
	logger *log.Logger
}

// New creates a Server with every route registered.
func New(opts Options) (*Server, error) {
	if opts.Store == nil || opts.Starter == nil || opts.Buys == nil || opts.Sells == nil || opts.Redeems == nil {
		return nil, errors.New("server: store, starter and appliers are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[http] ", log.LstdFlags)
	}

	s := &Server{
		store:   opts.Store,
		starter: opts.Starter,
		buys:    opts.Buys,
		sells:   opts.Sells,
		redeems: opts.Redeems,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", observability.Handler())

	mux.HandleFunc("GET /v1/game/fighting", s.handleList(false))
	mux.HandleFunc("GET /v1/game/ended", s.handleList(true))
	mux.HandleFunc("GET /v1/game/redeemables", s.handleRedeemables)
	mux.HandleFunc("GET /v1/game/positions", s.handlePositions)
	mux.HandleFunc("GET /v1/game/{id}", s.handleShow)

	mux.HandleFunc("POST /v1/game/start", s.handleStart)
	mux.HandleFunc("POST /v1/game/buy", s.handleApply("buy", s.buys))
	mux.HandleFunc("POST /v1/game/sell", s.handleApply("sell", s.sells))
	mux.HandleFunc("POST /v1/game/redeem", s.handleApply("redeem", s.redeems))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Message: "not found"})
	})

	var h http.Handler = mux
	h = withMetrics(h)
	h = withLogging(logger)(h)
	h = withCORS(opts.CORSOrigins)(h)

	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	// Start waits for account creation on the ledger.
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 60 * time.Second
	}

	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      h,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Println("stopped")
	return ctx.Err()
}
