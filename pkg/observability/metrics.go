// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the keyspace server.
package observability

import "github.com/prometheus/client_golang/prometheus"

// CommandBuckets defines histogram buckets suited for in-memory store
// commands, ranging from 50µs to 1s.
var CommandBuckets = []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

// Expiry paths used as the "path" label of ExpiredEntriesTotal.
const (
	ExpiryLazy  = "lazy"
	ExpirySweep = "sweep"
)

var (
	// CommandsTotal counts wire commands by name and response status.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyspace_commands_total",
			Help: "Wire commands processed",
		},
		[]string{"command", "status"},
	)

	// CommandDuration records wire command latency in seconds.
	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keyspace_command_duration_seconds",
			Help:    "Command duration",
			Buckets: CommandBuckets,
		},
		[]string{"command"},
	)

	// SessionsActive tracks open protocol sessions.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keyspace_sessions_active",
			Help: "Active protocol sessions",
		},
	)

	// ExpiredEntriesTotal counts entries removed because their TTL elapsed,
	// split by whether a read observed them (lazy) or the janitor did (sweep).
	ExpiredEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyspace_expired_entries_total",
			Help: "Expired entries removed",
		},
		[]string{"path"},
	)

	// Namespaces tracks the number of namespaces held by the manager.
	Namespaces = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keyspace_namespaces",
			Help: "Namespaces in the store",
		},
	)

	// ExtensionCallsTotal counts extension hook invocations by outcome.
	ExtensionCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyspace_extension_calls_total",
			Help: "Extension calls",
		},
		[]string{"hook", "status"},
	)

	// AuthRejectedTotal counts rejected authentication attempts by reason.
	AuthRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyspace_auth_rejected_total",
			Help: "Rejected authentication attempts",
		},
		[]string{"surface", "reason"},
	)

	// HTTPRequestsTotal counts HTTP gateway requests by method and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyspace_http_requests_total",
			Help: "HTTP gateway requests",
		},
		[]string{"method", "status"},
	)

	// HTTPRequestDuration records HTTP gateway request duration in seconds.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keyspace_http_request_duration_seconds",
			Help:    "HTTP gateway request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		CommandsTotal,
		CommandDuration,
		SessionsActive,
		ExpiredEntriesTotal,
		Namespaces,
		ExtensionCallsTotal,
		AuthRejectedTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}
