package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "httpcopy"

type Prometheus struct {
	registry        *prometheus.Registry
	ActiveSessions  prometheus.Gauge
	QueueDepth      prometheus.Gauge
	InFlight        prometheus.Gauge
	TestServerUp    prometheus.Gauge
	CapturesTotal   *prometheus.CounterVec
	UnitsTotal      *prometheus.CounterVec
	SessionFailures *prometheus.CounterVec
	Reverts         prometheus.Counter
	ScanDuration    prometheus.Histogram
	ForwardDuration prometheus.Histogram
}

func NewPrometheus() *Prometheus {
	r := prometheus.NewRegistry()
	p := &Prometheus{
		registry: r,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently tracked",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Ready sessions waiting for a worker",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Sessions being classified or forwarded",
		}),
		TestServerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "test_server_up",
			Help:      "Whether the last dial of the test server succeeded",
		}),
		CapturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Finished captures by classification",
		}, []string{"class"}),
		UnitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_forwarded_total",
			Help:      "Forwarded request units by outcome",
		}, []string{"result"}),
		SessionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_failures_total",
			Help:      "Sessions that ended failed, by reason",
		}, []string{"reason"}),
		Reverts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ready_reverts_total",
			Help:      "Ready sessions sent back to watching by late activity",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Time spent scanning the capture directory",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		ForwardDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_duration_seconds",
			Help:      "Time from request write to end of test response",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	r.MustRegister(
		p.ActiveSessions, p.QueueDepth, p.InFlight, p.TestServerUp,
		p.CapturesTotal, p.UnitsTotal, p.SessionFailures, p.Reverts,
		p.ScanDuration, p.ForwardDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }
