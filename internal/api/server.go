// Package api serves the sift HTTP surface: submission, archive management,
// sharing, health and metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/sift/internal/metrics"
	"github.com/sells-group/sift/internal/model"
	"github.com/sells-group/sift/internal/pipeline"
	"github.com/sells-group/sift/internal/store"
)

const (
	// DefaultRequestTimeout bounds a submission, leaving headroom under the
	// server's write timeout.
	DefaultRequestTimeout = 75 * time.Second
	// DefaultWriteTimeout is the http.Server write timeout.
	DefaultWriteTimeout = 90 * time.Second

	maxBodyBytes = 1 << 20
)

// Submitter runs a submission through the pipeline.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request) (*model.Sift, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	pipeline Submitter
	store    store.Store
	metrics  *metrics.Metrics
	timeout  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithRequestTimeout overrides the per-submission timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewServer creates a Server. m may be nil, in which case /metrics is 404.
func NewServer(p Submitter, st store.Store, m *metrics.Metrics, opts ...Option) *Server {
	s := &Server{
		pipeline: p,
		store:    st,
		metrics:  m,
		timeout:  DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "x-client-info", "apikey"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/sift", s.handleSubmit)
		r.Get("/sifts", s.handleList)
		r.Get("/share/{id}", s.handleShare)

		r.Get("/archive", s.handleListArchived)
		r.Put("/archive", s.handleSetArchived)
		r.Delete("/archive", s.handleDelete)
	})
	return r
}

// NewHTTPServer wraps the router in an http.Server with the service's
// timeouts.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/health" {
			return
		}
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
