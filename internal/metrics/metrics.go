package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsIngested counts validated events relayed by the stream client
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runwatch_events_ingested_total",
			Help: "Total number of validated run events ingested",
		},
		[]string{"type"},
	)

	// UnknownEventsDropped counts events dropped for an unknown type
	UnknownEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runwatch_unknown_events_dropped_total",
			Help: "Total number of events dropped due to an unrecognized type",
		},
	)

	// MalformedEventsDropped counts events dropped for parse failures
	MalformedEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runwatch_malformed_events_dropped_total",
			Help: "Total number of events dropped due to a malformed payload",
		},
	)

	// StreamReconnects counts stream reconnect attempts
	StreamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runwatch_stream_reconnects_total",
			Help: "Total number of event stream reconnect attempts",
		},
	)

	// RequestRetries counts retried API requests
	RequestRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runwatch_request_retries_total",
			Help: "Total number of retried API requests",
		},
	)

	// RequestFailures counts API requests that exhausted all attempts
	RequestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runwatch_request_failures_total",
			Help: "Total number of API requests that failed after all attempts",
		},
		[]string{"class"},
	)

	// WatchesActive tracks currently active run watches
	WatchesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "runwatch_watches_active",
			Help: "Number of runs currently being watched",
		},
	)

	// ScheduledRunsLaunched counts runs launched by the schedule runner
	ScheduledRunsLaunched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runwatch_scheduled_runs_launched_total",
			Help: "Total number of runs launched by the schedule runner",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
