// Package metrics provides Prometheus instrumentation for adsync.
//
// # Overview
//
// A SyncMetrics value groups every collector a sync run records:
//   - platform API requests and their latency
//   - hierarchy resolution (eligible accounts, skipped probes, managers visited)
//   - per-stream sync outcomes, latency and emitted records
//   - checkpoint writes
//
// Collectors are registered on the Registerer handed to New, so tests can use
// a private prometheus.NewRegistry() and the CLI can expose the default one.
//
// # Basic Usage
//
//	m := metrics.New(prometheus.DefaultRegisterer)
//	m.RecordsEmitted.WithLabelValues("campaigns").Inc()
//
//	timer := metrics.NewTimer()
//	err := stream.Sync(ctx, req)
//	m.ObserveStreamSync("campaigns", timer.Stop(), err)
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adsync"

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// SyncMetrics holds the collectors recorded during a sync run
type SyncMetrics struct {
	APIRequests      *prometheus.CounterVec   // operation, code
	APILatency       *prometheus.HistogramVec // operation
	AccountsEligible *prometheus.GaugeVec     // mode
	AccountsSkipped  *prometheus.CounterVec   // reason
	ManagersVisited  prometheus.Counter
	StreamSyncs      *prometheus.CounterVec   // stream, outcome
	StreamLatency    *prometheus.HistogramVec // stream
	RecordsEmitted   *prometheus.CounterVec   // stream
	CheckpointWrites prometheus.Counter
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *SyncMetrics {
	factory := promauto.With(reg)

	return &SyncMetrics{
		APIRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Platform API requests by operation and HTTP status code",
			},
			[]string{"operation", "code"},
		),
		APILatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Platform API request latency",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"operation"},
		),
		AccountsEligible: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "accounts_eligible",
				Help:      "Eligible accounts found by the last hierarchy resolution",
			},
			[]string{"mode"},
		),
		AccountsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accounts_skipped_total",
				Help:      "Accessible accounts skipped during resolution by reason",
			},
			[]string{"reason"},
		),
		ManagersVisited: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "managers_visited_total",
				Help:      "Manager accounts queried during hierarchy traversal",
			},
		),
		StreamSyncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_syncs_total",
				Help:      "Completed (stream, customer) syncs by outcome",
			},
			[]string{"stream", "outcome"},
		),
		StreamLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stream_sync_duration_seconds",
				Help:      "Duration of a single (stream, customer) sync",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"stream"},
		),
		RecordsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_emitted_total",
				Help:      "RECORD messages written by stream",
			},
			[]string{"stream"},
		),
		CheckpointWrites: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoint_writes_total",
				Help:      "State persists performed by the scheduler and streams",
			},
		),
	}
}

// NewUnregistered creates collectors on a throwaway registry
func NewUnregistered() *SyncMetrics {
	return New(prometheus.NewRegistry())
}

// ObserveStreamSync records the outcome and duration of one (stream, customer) sync
func (m *SyncMetrics) ObserveStreamSync(stream string, d time.Duration, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.StreamSyncs.WithLabelValues(stream, outcome).Inc()
	m.StreamLatency.WithLabelValues(stream).Observe(d.Seconds())
}

// Timer measures elapsed time from creation
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It can be called repeatedly.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
