// Package httpserver exposes the mailflow service over HTTP.
package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/mailflow"
	"github.com/dmitrymomot/mailflow/pkg/health"
	"github.com/dmitrymomot/mailflow/pkg/logger"
	"github.com/dmitrymomot/mailflow/pkg/metrics"
)

// Server routes HTTP requests to a mailflow service.
type Server struct {
	svc     *mailflow.Service
	log     *slog.Logger
	metrics *metrics.Metrics
	checks  health.Checks
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records request durations and serves GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithReadinessChecks sets the dependencies probed by GET /readyz.
func WithReadinessChecks(checks health.Checks) Option {
	return func(s *Server) { s.checks = checks }
}

// New creates a server for svc.
func New(svc *mailflow.Service, opts ...Option) *Server {
	s := &Server{
		svc: svc,
		log: logger.NewNope(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(s.recoverer)
	r.Use(s.observe)

	r.Get("/healthz", health.LivenessHandler())
	r.Get("/readyz", health.ReadinessHandler(s.checks, health.WithLogger(s.log)))
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Method(http.MethodPost, "/webhooks", s.svc.WebhookHandler())

	r.Route("/emails", func(r chi.Router) {
		r.Post("/", s.sendEmail)
		r.Post("/template", s.sendTemplateEmail)
		r.Get("/", s.listEmails)
		r.Get("/{id}", s.getEmail)
		r.Get("/{id}/events", s.emailEvents)
		r.Delete("/{id}", s.cancelEmail)
	})
	r.Get("/stats", s.emailStats)

	return r
}
