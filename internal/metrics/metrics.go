// Package metrics exposes optional Prometheus instrumentation additive
// to the JSON state files a GUI would read; this is for operators who
// already run a Prometheus scrape target. Uses a private
// prometheus.Registry rather than the global default registerer so tests
// can create independent Collectors.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric this worker exposes, keyed per tool where
// the breaker and lock model is per-tool.
type Collector struct {
	registry *prometheus.Registry

	tasksDispatched *prometheus.CounterVec
	tasksCompleted  *prometheus.CounterVec
	tasksFailed     *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec

	tasksRunning prometheus.Gauge
	tasksPending prometheus.Gauge

	circuitOpen *prometheus.GaugeVec
}

// NewCollector builds and registers a fresh set of metrics against a
// private registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		tasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_tasks_dispatched_total",
			Help: "Total number of tasks dispatched to the process runner, by tool.",
		}, []string{"tool"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_tasks_completed_total",
			Help: "Total number of tasks that completed successfully, by tool.",
		}, []string{"tool"}),
		tasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_tasks_failed_total",
			Help: "Total number of tasks that ended in failure, by tool and final exit code.",
		}, []string{"tool", "exit"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queue_task_duration_seconds",
			Help:    "Wall-clock duration of a task's final attempt, by tool.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_tasks_running",
			Help: "Current number of running tasks.",
		}),
		tasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_tasks_pending",
			Help: "Current number of pending entries across all file contexts.",
		}),
		circuitOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_circuit_breaker_open",
			Help: "1 if the circuit breaker for this tool is currently open, 0 otherwise.",
		}, []string{"tool"}),
	}

	reg.MustRegister(
		c.tasksDispatched,
		c.tasksCompleted,
		c.tasksFailed,
		c.taskDuration,
		c.tasksRunning,
		c.tasksPending,
		c.circuitOpen,
	)

	return c
}

func (c *Collector) RecordDispatch(tool string) {
	c.tasksDispatched.WithLabelValues(tool).Inc()
}

func (c *Collector) RecordCompleted(tool string, durationSeconds float64) {
	c.tasksCompleted.WithLabelValues(tool).Inc()
	c.taskDuration.WithLabelValues(tool).Observe(durationSeconds)
}

func (c *Collector) RecordFailed(tool string, exit int, durationSeconds float64) {
	c.tasksFailed.WithLabelValues(tool, fmt.Sprintf("%d", exit)).Inc()
	c.taskDuration.WithLabelValues(tool).Observe(durationSeconds)
}

func (c *Collector) SetQueueDepth(running, pending int) {
	c.tasksRunning.Set(float64(running))
	c.tasksPending.Set(float64(pending))
}

func (c *Collector) SetCircuitOpen(tool string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	c.circuitOpen.WithLabelValues(tool).Set(v)
}

// Serve starts an HTTP server exposing /metrics on addr, shutting down
// when ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}
