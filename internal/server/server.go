// Package server is the registryd HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
	"github.com/alanyoungcy/stakeregistry/internal/server/handler"
	"github.com/alanyoungcy/stakeregistry/internal/server/middleware"
	"github.com/alanyoungcy/stakeregistry/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port              int
	CORSOrigins       []string
	APIKey            string // guards admin routes; empty disables them
	RequireSignatures bool
	SignatureMaxSkew  time.Duration
	RateLimit         int // requests per RateWindow per client IP; 0 disables
	RateWindow        time.Duration
}

// Handlers aggregates the route handlers. History and Archive may be nil.
type Handlers struct {
	Health   *handler.HealthHandler
	Registry *handler.RegistryHandler
	Listings *handler.ListingHandler
	Polls    *handler.PollHandler
	Tokens   *handler.TokenHandler
	History  *handler.HistoryHandler
	Archive  *handler.ArchiveHandler
	Metrics  http.Handler
}

// Deps are the optional cross-cutting collaborators.
type Deps struct {
	Limiter  domain.RateLimiter
	Recorder middleware.HTTPRecorder
	Now      func() time.Time
}

// Server is the headless registry API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, deps Deps, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, hub, deps, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler returns the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, hub *ws.Hub, deps Deps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	admin := middleware.Auth(cfg.APIKey)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	mux.HandleFunc("GET /api/registry", handlers.Registry.GetRegistry)

	l := handlers.Listings
	mux.HandleFunc("GET /api/listings", l.ListListings)
	mux.HandleFunc("POST /api/listings", l.Apply)
	mux.HandleFunc("GET /api/listings/{id}", l.GetListing)
	mux.HandleFunc("GET /api/listings/{id}/listed", l.IsListed)
	mux.HandleFunc("GET /api/listings/{id}/challenges", l.ListChallenges)
	mux.HandleFunc("POST /api/listings/{id}/deposit", l.Deposit)
	mux.HandleFunc("POST /api/listings/{id}/withdraw", l.Withdraw)
	mux.HandleFunc("POST /api/listings/{id}/challenge", l.Challenge)
	mux.HandleFunc("POST /api/listings/{id}/finalize", l.FinalizeApplication)
	mux.HandleFunc("POST /api/listings/{id}/resolve", l.ResolveChallenge)
	mux.HandleFunc("POST /api/listings/{id}/update", l.UpdateStatus)
	mux.HandleFunc("POST /api/listings/{id}/exit", l.RequestExit)
	mux.HandleFunc("POST /api/listings/{id}/exit/finalize", l.FinalizeExit)
	if handlers.History != nil {
		mux.HandleFunc("GET /api/listings/{id}/history", handlers.History.ListingHistory)
	}

	p := handlers.Polls
	mux.HandleFunc("GET /api/challenges/{id}", p.GetChallenge)
	mux.HandleFunc("GET /api/polls/{id}", p.GetPoll)
	mux.HandleFunc("POST /api/polls/{id}/commit", p.Commit)
	mux.HandleFunc("POST /api/polls/{id}/reveal", p.Reveal)

	t := handlers.Tokens
	mux.HandleFunc("GET /api/tokens/{address}", t.GetBalance)
	mux.HandleFunc("POST /api/tokens/approve", t.Approve)
	mux.HandleFunc("POST /api/tokens/transfer", t.Transfer)
	mux.Handle("POST /api/tokens/mint", admin(http.HandlerFunc(t.Mint)))

	if a := handlers.Archive; a != nil {
		mux.Handle("GET /api/archive", admin(http.HandlerFunc(a.ListArchives)))
		mux.Handle("GET /api/archive/{path...}", admin(http.HandlerFunc(a.GetArchive)))
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// Metrics wraps the mux directly so r.Pattern is set when it reads it.
	var h http.Handler = mux
	if deps.Recorder != nil {
		h = middleware.Metrics(deps.Recorder)(h)
	}
	h = middleware.Caller(middleware.CallerConfig{
		RequireSignatures: cfg.RequireSignatures,
		MaxSkew:           cfg.SignatureMaxSkew,
		Now:               deps.Now,
	})(h)
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
