package tilewire

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the client's prometheus instruments. Registered on a
// private registry so two clients in one process do not collide.
type metrics struct {
	registry *prometheus.Registry

	eventsReceived  prometheus.Counter
	eventsDeduped   prometheus.Counter
	errorsTotal     *prometheus.CounterVec
	alarmsTotal     prometheus.Counter
	reconnects      prometheus.Counter
	gapsDetected    prometheus.Counter
	recoveries      *prometheus.CounterVec
	snapshotsTotal  prometheus.Counter
	latencyMillis   prometheus.Gauge
	healthUnhealthy prometheus.Gauge
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		eventsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tilewire", Name: "events_received_total",
			Help: "Inbound sequenced events routed to the state store.",
		}),
		eventsDeduped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tilewire", Name: "events_deduped_total",
			Help: "Inbound events dropped as duplicates.",
		}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tilewire", Name: "errors_total",
			Help: "Service errors by type.",
		}, []string{"type"}),
		alarmsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tilewire", Name: "error_alarms_total",
			Help: "Times the error burst alarm tripped.",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tilewire", Name: "reconnects_total",
			Help: "Successful reconnections.",
		}),
		gapsDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tilewire", Name: "sequence_gaps_total",
			Help: "Sequence gaps detected in the event stream.",
		}),
		recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tilewire", Name: "recoveries_total",
			Help: "Recovery attempts by outcome.",
		}, []string{"outcome"}),
		snapshotsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tilewire", Name: "snapshots_total",
			Help: "Game state snapshots taken.",
		}),
		latencyMillis: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tilewire", Name: "heartbeat_latency_millis",
			Help: "Last measured heartbeat round trip in milliseconds.",
		}),
		healthUnhealthy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tilewire", Name: "unhealthy",
			Help: "1 while the aggregated health check fails.",
		}),
	}
}
