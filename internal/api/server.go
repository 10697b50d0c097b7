// Package api provides the HTTP API server and handlers for story progress.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/storylingo/storylingo-server/internal/http/response"
	"github.com/storylingo/storylingo-server/internal/store"
)

// Options tunes the transport around the API operations.
type Options struct {
	CORSOrigins []string

	// Requests per second allowed per client IP. Zero disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

const apiVersion = "1.0.0"

// Server holds dependencies for HTTP handlers.
type Server struct {
	store       store.Store
	services    *Services
	router      *chi.Mux
	api         huma.API
	rateLimiter *RateLimiter
	logger      *slog.Logger
	startedAt   time.Time
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(st store.Store, services *Services, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		store:     st,
		services:  services,
		router:    chi.NewRouter(),
		logger:    logger,
		startedAt: time.Now(),
	}

	if opts.RateLimitRPS > 0 {
		s.rateLimiter = NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	}

	s.setupMiddleware(opts)

	humaConfig := huma.DefaultConfig("StoryLingo Progress API", apiVersion)
	humaConfig.Info.Description = "Story progress tracking and learner statistics"
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.registerRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases background resources held by the server.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

func (s *Server) setupMiddleware(opts Options) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if s.rateLimiter != nil {
		s.router.Use(RateLimitMiddleware(s.rateLimiter, s.logger))
	}

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "route not found: "+r.URL.Path, s.logger)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.MethodNotAllowed(w, "method "+r.Method+" not allowed", s.logger)
	})
}

func (s *Server) registerRoutes() {
	s.registerHealthRoutes()
	s.registerProgressRoutes()
	s.registerStatsRoutes()
}

// requestLogger logs one line per request at debug level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
