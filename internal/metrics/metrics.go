package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orrn/ticketspool/internal/queue"
)

const namespace = "ticketspool"

// Metrics exposes queue and printer state to prometheus. Each instance owns
// its registry so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	pending    prometheus.Gauge
	processing prometheus.Gauge
	jobs       *prometheus.CounterVec
	enqueued   prometheus.Gauge
	online     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pending_jobs",
			Help:      "Jobs waiting in the pending directory.",
		}),
		processing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "processing_jobs",
			Help:      "Jobs claimed by the drain loop.",
		}),
		enqueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_since_start",
			Help:      "Jobs accepted since the process started.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Jobs that left the queue, by outcome.",
		}, []string{"outcome"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "printer",
			Name:      "online",
			Help:      "1 if the last status check reached the printer.",
		}),
	}

	m.registry.MustRegister(
		m.pending,
		m.processing,
		m.enqueued,
		m.jobs,
		m.online,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Outcomes show up as zero before the first job.
	m.jobs.WithLabelValues("completed")
	m.jobs.WithLabelValues("failed")

	return m
}

// ObserveSnapshot is a queue.Listener.
func (m *Metrics) ObserveSnapshot(snap queue.Snapshot) {
	m.pending.Set(float64(snap.Pending))
	m.processing.Set(float64(snap.Processing))
	m.enqueued.Set(float64(snap.Enqueued))
}

func (m *Metrics) JobCompleted(context.Context, string) {
	m.jobs.WithLabelValues("completed").Inc()
}

func (m *Metrics) JobFailed(context.Context, string, string) {
	m.jobs.WithLabelValues("failed").Inc()
}

func (m *Metrics) SetPrinterOnline(online bool) {
	if online {
		m.online.Set(1)
		return
	}
	m.online.Set(0)
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
