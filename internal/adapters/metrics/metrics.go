// Package metrics exposes prometheus instrumentation for the sync daemon.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/queue"
)

// Metrics holds the daemon's collectors on a private registry so tests can
// create as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	jobsProcessed *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	queueDepth    *prometheus.GaugeVec
}

// New creates the collector set.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finsync_jobs_processed_total",
			Help: "Queue jobs completed, by queue, task and outcome.",
		}, []string{"queue", "task", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finsync_job_duration_seconds",
			Help:    "Queue job execution time.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"queue", "task"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finsync_queue_depth",
			Help: "Jobs waiting per queue.",
		}, []string{"queue"}),
	}
	registry.MustRegister(m.jobsProcessed, m.jobDuration, m.queueDepth)
	return m
}

// ObserveJob records one finished queue job. Plugs into queue.Pool.SetObserver.
func (m *Metrics) ObserveJob(queueName, task, outcome string, elapsed time.Duration) {
	m.jobsProcessed.WithLabelValues(queueName, task, outcome).Inc()
	m.jobDuration.WithLabelValues(queueName, task).Observe(elapsed.Seconds())
}

// WatchQueues samples broker depths until ctx ends.
func (m *Metrics) WatchQueues(ctx context.Context, broker *queue.Broker, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	queues := []string{queue.QueueHighPriority, queue.QueueOrgSync, queue.QueueDefault}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range queues {
				m.queueDepth.WithLabelValues(name).Set(float64(broker.Len(name)))
			}
		}
	}
}

// Serve runs the /metrics listener until ctx ends.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()
	logger.Info().Str("addr", addr).Msg("metrics listener started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
