// Package metrics holds the prometheus.Registry and the gauges/counters
// the Manager's event loop updates as tasks change state, exposed at
// /metrics on the control server when enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the gauges/counters the Manager updates as tasks are
// admitted, retried, completed, or failed.
type Metrics struct {
	Registry *prometheus.Registry

	ActiveTasks     prometheus.Gauge
	PendingTasks    prometheus.Gauge
	QueueDepth      prometheus.Gauge
	BytesDownloaded prometheus.Counter
	TasksCompleted  prometheus.Counter
	TasksFailed     prometheus.Counter
	Retries         prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ActiveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fetchd", Name: "active_tasks", Help: "Tasks currently queued, downloading, or extracting.",
		}),
		PendingTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fetchd", Name: "pending_tasks", Help: "Tasks waiting for a scheduler slot.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fetchd", Name: "queue_depth", Help: "Total tasks known to the queue.",
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fetchd", Name: "bytes_downloaded_total", Help: "Cumulative bytes written across all tasks.",
		}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fetchd", Name: "tasks_completed_total", Help: "Tasks that reached completed.",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fetchd", Name: "tasks_failed_total", Help: "Tasks that reached failed.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fetchd", Name: "retries_total", Help: "Retry attempts issued by the retry policy.",
		}),
	}
	reg.MustRegister(m.ActiveTasks, m.PendingTasks, m.QueueDepth,
		m.BytesDownloaded, m.TasksCompleted, m.TasksFailed, m.Retries)
	return m
}
