package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"muse/internal/task"
)

// Metrics exposes Prometheus collectors that report orchestrator activity.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	streamsActive    *prometheus.GaugeVec
	eventsEmitted    *prometheus.CounterVec
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Supply a fresh registry in tests to avoid duplicate registration. Any
// registration error panics, mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muse",
			Subsystem: "dispatcher",
			Name:      "requests_total",
			Help:      "Generation requests handled, labelled by classified intent.",
		},
		[]string{"intent"},
	)
	dispatchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "muse",
			Subsystem: "dispatcher",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent dispatching one request, labelled by path.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path"},
	)
	streamsActive := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "muse",
			Subsystem: "server",
			Name:      "streams_active",
			Help:      "Open event streams, labelled by stream kind.",
		},
		[]string{"kind"},
	)
	eventsEmitted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muse",
			Subsystem: "server",
			Name:      "stream_events_total",
			Help:      "Events written to client streams, labelled by stream kind and event type.",
		},
		[]string{"kind", "type"},
	)

	for _, collector := range []prometheus.Collector{requestsTotal, dispatchDuration, streamsActive, eventsEmitted} {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case requestsTotal:
					requestsTotal = already.ExistingCollector.(*prometheus.CounterVec)
				case dispatchDuration:
					dispatchDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case streamsActive:
					streamsActive = already.ExistingCollector.(*prometheus.GaugeVec)
				case eventsEmitted:
					eventsEmitted = already.ExistingCollector.(*prometheus.CounterVec)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		requestsTotal:    requestsTotal,
		dispatchDuration: dispatchDuration,
		streamsActive:    streamsActive,
		eventsEmitted:    eventsEmitted,
	}
}

// RegisterTaskStats exports registry aggregates as gauges computed on scrape.
func RegisterTaskStats(reg prometheus.Registerer, registry *task.Registry) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	statuses := map[string]func(task.Stats) int{
		"pending":    func(s task.Stats) int { return s.Pending },
		"processing": func(s task.Stats) int { return s.Processing },
		"completed":  func(s task.Stats) int { return s.Completed },
		"failed":     func(s task.Stats) int { return s.Failed },
	}
	for status, pick := range statuses {
		pick := pick
		gauge := prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   "muse",
				Subsystem:   "tasks",
				Name:        "records",
				Help:        "Task records retained in the registry by status.",
				ConstLabels: prometheus.Labels{"status": status},
			},
			func() float64 { return float64(pick(registry.Stats())) },
		)
		if err := reg.Register(gauge); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}

// IncRequest counts one dispatched request for the classified intent.
func (m *Metrics) IncRequest(intent string) {
	if m == nil || m.requestsTotal == nil {
		return
	}
	m.requestsTotal.WithLabelValues(intent).Inc()
}

// ObserveDispatch records the duration of one dispatch on the given path.
func (m *Metrics) ObserveDispatch(path string, d time.Duration) {
	if m == nil || m.dispatchDuration == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(path).Observe(d.Seconds())
}

// StreamOpened marks a client stream as open.
func (m *Metrics) StreamOpened(kind string) {
	if m == nil || m.streamsActive == nil {
		return
	}
	m.streamsActive.WithLabelValues(kind).Inc()
}

// StreamClosed marks a client stream as closed.
func (m *Metrics) StreamClosed(kind string) {
	if m == nil || m.streamsActive == nil {
		return
	}
	m.streamsActive.WithLabelValues(kind).Dec()
}

// IncEvent counts one event written to a client stream.
func (m *Metrics) IncEvent(kind, eventType string) {
	if m == nil || m.eventsEmitted == nil {
		return
	}
	m.eventsEmitted.WithLabelValues(kind, eventType).Inc()
}
