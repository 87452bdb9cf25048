// Package metrics exposes prometheus collectors for the session tracker.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the tracker collectors. Each instance owns its registry so
// tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	EventsReceived   *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	Reconnects       prometheus.Counter
	Polls            *prometheus.CounterVec
	SessionsFinished *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	ReduceLatency    prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intelwatch_events_received_total",
			Help: "Status events classified, by kind and source",
		}, []string{"kind", "source"}),

		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intelwatch_events_dropped_total",
			Help: "Inputs discarded before reduction, by reason",
		}, []string{"reason"}),

		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "intelwatch_channel_reconnects_total",
			Help: "Push channel reconnect attempts scheduled",
		}),

		Polls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intelwatch_poller_transitions_total",
			Help: "Fallback poller starts and stops",
		}, []string{"action"}),

		SessionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intelwatch_sessions_finished_total",
			Help: "Sessions that reached a terminal status",
		}, []string{"status"}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "intelwatch_queue_depth",
			Help: "Inputs waiting for the reducer",
		}),

		ReduceLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "intelwatch_reduce_duration_seconds",
			Help:    "Time spent reducing one input and running its effects",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Router serves the registry at /metrics.
func (m *Metrics) Router() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return r
}

// Serve runs the metrics endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
