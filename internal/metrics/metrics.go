// Package metrics exposes Prometheus collectors for the poll loop and serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Page check results.
const (
	ResultUnchanged = "unchanged"
	ResultChanged   = "changed"
	ResultFetchErr  = "fetch_error"
	ResultStoreErr  = "store_error"
)

// Delivery statuses.
const (
	DeliveryOK     = "ok"
	DeliveryFailed = "failed"
)

// Metrics holds the collectors updated by the scheduler.
type Metrics struct {
	Ticks             prometheus.Counter
	TickDuration      prometheus.Histogram
	PageChecks        *prometheus.CounterVec
	NewResources      prometheus.Counter
	Deliveries        *prometheus.CounterVec
	PersistenceErrors prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "site_tracker_ticks_total",
			Help: "Completed poll passes.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "site_tracker_tick_duration_seconds",
			Help:    "Duration of a poll pass.",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		PageChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "site_tracker_page_checks_total",
			Help: "Page checks by result.",
		}, []string{"result"}),
		NewResources: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "site_tracker_new_resources_total",
			Help: "Resources reported as new.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "site_tracker_deliveries_total",
			Help: "Notification deliveries by status.",
		}, []string{"status"}),
		PersistenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "site_tracker_persistence_errors_total",
			Help: "Failed writes to the subscription store.",
		}),
	}
	reg.MustRegister(m.Ticks, m.TickDuration, m.PageChecks, m.NewResources, m.Deliveries, m.PersistenceErrors)
	return m
}

// NewRouter returns a router serving /metrics from gatherer and a /healthz liveness check.
func NewRouter(gatherer prometheus.Gatherer) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Server serves the metrics router until its context is cancelled.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(gatherer),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
		},
		logger: logger,
	}
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("metrics server started", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
