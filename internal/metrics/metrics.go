package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coherence_hub"

var (
	// Registry holds the hub's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	ConnectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "field",
			Name:      "connected_clients",
			Help:      "Number of clients currently in the registry.",
		},
	)

	AggregateCoherence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "field",
			Name:      "aggregate_coherence",
			Help:      "Most recently computed aggregate coherence.",
		},
	)

	// StabilityClass is 1 for the current class and 0 for the others.
	StabilityClass = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "field",
			Name:      "stability",
			Help:      "Current advisory stability class of the field.",
		},
		[]string{"class"},
	)

	StabilityTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "field",
			Name:      "stability_transitions_total",
			Help:      "Stability class transitions.",
		},
		[]string{"from", "to"},
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "messages_received_total",
			Help:      "Inbound WebSocket frames by type.",
		},
		[]string{"type"},
	)

	FramesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_enqueued_total",
			Help:      "Outbound frames enqueued to connections by channel.",
		},
		[]string{"channel"},
	)

	FramesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_dropped_total",
			Help:      "Outbound frames dropped because a connection queue was closed or full.",
		},
		[]string{"channel"},
	)

	Evictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "evictions_total",
			Help:      "Clients evicted for missing heartbeats.",
		},
	)

	RoutingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "decisions_total",
			Help:      "Routing decisions by category and status.",
		},
		[]string{"category", "status"},
	)

	LaneRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lane",
			Name:      "records_written_total",
			Help:      "Decision records persisted per lane.",
		},
		[]string{"lane"},
	)

	LaneFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lane",
			Name:      "records_failed_total",
			Help:      "Decision records that could not be queued or written.",
		},
		[]string{"lane"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		ConnectedClients,
		AggregateCoherence,
		StabilityClass,
		StabilityTransitions,
		MessagesReceived,
		FramesDelivered,
		FramesDropped,
		Evictions,
		RoutingDecisions,
		LaneRecords,
		LaneFailures,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetStability marks class as the current stability class.
func SetStability(class string) {
	for _, c := range []string{"stable", "transitioning", "chaotic"} {
		v := 0.0
		if c == class {
			v = 1
		}
		StabilityClass.WithLabelValues(c).Set(v)
	}
}

// ObserveHTTP records one handled HTTP request. route should be the route
// pattern rather than the raw path to keep label cardinality bounded.
func ObserveHTTP(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
