// Package server provides the HTTP server and routing for the allocator.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/marketdata"
	"github.com/aristath/allocator/internal/modules/allocation"
	allocationhandlers "github.com/aristath/allocator/internal/modules/allocation/handlers"
	"github.com/aristath/allocator/internal/modules/backtest"
	backtesthandlers "github.com/aristath/allocator/internal/modules/backtest/handlers"
	riskhandlers "github.com/aristath/allocator/internal/modules/risk/handlers"
	"github.com/aristath/allocator/internal/modules/views"
	"github.com/aristath/allocator/internal/recorder"
	"github.com/aristath/allocator/internal/reporting"
	"github.com/aristath/allocator/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log     zerolog.Logger
	Port    int
	DevMode bool
	DataDir string

	// DB is the results database, nil when results are kept in memory.
	DB        *database.DB
	Limits    domain.RiskLimits
	Decisions *allocation.Service
	Source    marketdata.Source
	Backtest  backtest.Config
	Generator views.Generator
	Recorder  recorder.Recorder
	Exporter  reporting.Exporter
	Scheduler JobRunner
	Jobs      []scheduler.Job
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	port   int

	db        *database.DB
	decisions *allocation.Service
	runner    JobRunner

	riskHandlers       *riskhandlers.Handler
	allocationHandlers *allocationhandlers.Handler
	backtestHandlers   *backtesthandlers.Handler
	systemHandlers     *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		port:   cfg.Port,

		db:        cfg.DB,
		decisions: cfg.Decisions,
		runner:    cfg.Scheduler,

		riskHandlers:       riskhandlers.NewHandler(cfg.Limits, cfg.Log),
		allocationHandlers: allocationhandlers.NewHandler(cfg.Decisions, cfg.Log),
		backtestHandlers: backtesthandlers.NewHandler(
			cfg.Source, cfg.Backtest, cfg.Generator, cfg.Recorder, cfg.Exporter, cfg.Log,
		),
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.DataDir, cfg.DB, cfg.Scheduler, cfg.Jobs),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	// No WriteTimeout: route groups carry their own deadlines.
	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			s.riskHandlers.RegisterRoutes(r)
			s.allocationHandlers.RegisterRoutes(r)
			s.systemHandlers.RegisterRoutes(r)
		})

		// Walk-forward runs are heavy
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(10 * time.Minute))
			s.backtestHandlers.RegisterRoutes(r)
		})
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
