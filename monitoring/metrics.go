package monitoring

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"event-portal/internal/lib/logger/sl"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	viewMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_view_messages_total",
			Help: "Incremental updates received by mounted views",
		},
		[]string{"kind", "outcome"},
	)

	viewFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_view_fetches_total",
			Help: "Full collection fetches issued by mounted views",
		},
		[]string{"outcome"},
	)

	activeViews = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_views_active",
			Help: "Currently mounted views",
		},
	)

	pushStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_push_status_total",
			Help: "Push channel status changes",
		},
		[]string{"category"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_api_request_duration_seconds",
			Help:    "Latency of calls to the event API",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"endpoint", "status"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portal_api_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_goroutines",
			Help: "Current number of goroutines",
		},
	)
)

// TrackViewMessage counts one incremental update and what happened to it.
func TrackViewMessage(kind, outcome string) {
	viewMessages.WithLabelValues(kind, outcome).Inc()
}

func TrackViewFetch(outcome string) {
	viewFetches.WithLabelValues(outcome).Inc()
}

func ViewMounted() {
	activeViews.Inc()
}

func ViewUnmounted() {
	activeViews.Dec()
}

func TrackPushStatus(category string) {
	pushStatus.WithLabelValues(category).Inc()
}

// TrackAPIRequest observes one call to the event API. status 0 means the call
// never produced a response.
func TrackAPIRequest(endpoint string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	apiRequestDuration.WithLabelValues(endpoint, label).Observe(duration.Seconds())
}

func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// Monitor samples process level gauges and exposes /metrics.
type Monitor struct {
	log      *slog.Logger
	interval time.Duration
}

func NewMonitor(log *slog.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{log: log, interval: interval}
}

// CollectMetrics samples until ctx is cancelled.
func (m *Monitor) CollectMetrics(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collectGoroutineMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectGoroutineMetrics()
		}
	}
}

func (m *Monitor) collectGoroutineMetrics() {
	goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// Serve exposes the default registry on addr until ctx is cancelled.
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	const op = "monitoring.Serve"
	log := m.log.With(slog.String("op", op), slog.String("addr", addr))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("exposing Prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server stopped", sl.Err(err))
		return err
	}
	return nil
}
