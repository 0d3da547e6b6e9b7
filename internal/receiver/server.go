package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/venhook/internal/auth"
	"github.com/mattjoyce/venhook/internal/dedup"
	"github.com/mattjoyce/venhook/internal/events"
	"github.com/mattjoyce/venhook/internal/metrics"
	"github.com/mattjoyce/venhook/internal/storage"
	"github.com/mattjoyce/venhook/webhook"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/venhook/internal/receiver EventStore

// Route labels used in logs, metrics and published events.
const (
	RouteWebhook = "webhook"
	RouteInbound = "inbound"
)

// EventStore persists processed events.
type EventStore interface {
	Save(ctx context.Context, rec storage.EventRecord) error
}

// Deps are the collaborators a Server needs. Filter, Hub and Metrics are
// optional; Gatherer is required only when Config.MetricsPath is set.
type Deps struct {
	Store    EventStore
	Filter   dedup.Filter
	Hub      *events.Hub
	Metrics  metrics.Sink
	Gatherer prometheus.Gatherer
}

// Server is the Venmail webhook receiver.
type Server struct {
	config    Config
	store     EventStore
	filter    dedup.Filter
	hub       *events.Hub
	metrics   metrics.Sink
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	webhookHandler *webhook.Handler
	inboundHandler http.Handler
}

// New validates cfg and builds the request handlers.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("receiver: store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhooks/venmail"
	}
	if deps.Filter == nil {
		deps.Filter = dedup.NewMemoryFilter(dedup.DefaultTTL)
	}
	if deps.Hub == nil {
		deps.Hub = events.NewHub(0)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NopSink{}
	}
	if cfg.MetricsPath != "" && deps.Gatherer == nil {
		return nil, fmt.Errorf("receiver: metrics path %s configured without a gatherer", cfg.MetricsPath)
	}

	s := &Server{
		config:    cfg,
		store:     deps.Store,
		filter:    deps.Filter,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
		logger:    logger,
		startedAt: time.Now(),
	}

	wh, err := webhook.NewHandler(webhook.Options{
		Secret:          cfg.Secret,
		OnEvent:         s.processor(RouteWebhook),
		AllowUnsigned:   cfg.AllowUnsigned,
		SignatureHeader: cfg.SignatureHeader,
		EventHeader:     cfg.EventHeader,
		Encoding:        cfg.Encoding,
		MaxBodySize:     cfg.MaxBodySize,
		Logger:          logger.With("route", RouteWebhook),
	})
	if err != nil {
		return nil, fmt.Errorf("webhook route: %w", err)
	}
	s.webhookHandler = wh

	if cfg.InboundPath != "" {
		guard, err := webhook.RequireSharedSecret(cfg.InboundSecret, cfg.InboundHeader, logger.With("route", RouteInbound))
		if err != nil {
			return nil, fmt.Errorf("inbound route: %w", err)
		}
		// The shared secret has already been checked, so the adaptor runs unsigned.
		ih, err := webhook.NewHandler(webhook.Options{
			OnEvent:       s.processor(RouteInbound),
			AllowUnsigned: true,
			EventHeader:   cfg.EventHeader,
			MaxBodySize:   cfg.MaxBodySize,
			Logger:        logger.With("route", RouteInbound),
		})
		if err != nil {
			return nil, fmt.Errorf("inbound route: %w", err)
		}
		s.inboundHandler = guard(ih)
	}

	return s, nil
}

// Hub returns the server's event hub.
func (s *Server) Hub() *events.Hub {
	return s.hub
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Routes(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /events streams stay open.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("receiver starting",
		"listen", s.config.Listen,
		"webhook_path", s.config.WebhookPath,
		"inbound_path", s.config.InboundPath,
		"metrics_path", s.config.MetricsPath,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("receiver shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	// Operator endpoints.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireBearer(s.config.OperatorToken, s.logger))
		r.Get("/events", events.Handler(s.hub))
		if s.config.MetricsPath != "" {
			r.Method(http.MethodGet, s.config.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}
	})

	r.With(s.observeRejections(RouteWebhook)).Post(s.config.WebhookPath, s.webhookHandler.ServeHTTP)
	if s.inboundHandler != nil {
		r.With(s.observeRejections(RouteInbound)).Post(s.config.InboundPath, s.inboundHandler.ServeHTTP)
	}

	return r
}

// observeRejections records authentication failures, which the webhook handler
// and shared-secret middleware answer with 401 without reaching the processor.
func (s *Server) observeRejections(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww, ok := w.(middleware.WrapResponseWriter)
			if !ok {
				ww = middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			}
			next.ServeHTTP(ww, r)
			if ww.Status() == http.StatusUnauthorized {
				s.metrics.SignatureChecked(route, metrics.OutcomeInvalid)
				s.hub.Publish(events.TypeRejected, Notice{
					Source:    route,
					RequestID: middleware.GetReqID(r.Context()),
					Error:     "unauthorized",
				})
			}
		})
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
