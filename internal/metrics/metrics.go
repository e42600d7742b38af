package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the package-local prometheus registry served by
// cmd/fleetwatchd's /metrics endpoint. Unlike the controller-runtime
// global registry this package used to register against, there is no
// ctrl.Manager in this domain to own metric serving, so the daemon
// wires this registry directly to promhttp.HandlerFor.
var Registry = prometheus.NewRegistry()

const stateLabel = "state"

var (
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetwatch_tick_duration_seconds",
			Help:    "Wall-clock duration of a single Tick Orchestrator run.",
			Buckets: prometheus.DefBuckets,
		},
	)
	TickErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_tick_errors_total",
			Help: "Count of errors surfaced by a tick, by the stage that produced them.",
		},
		[]string{"stage"},
	)
	FleetStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetwatch_workers_in_state",
			Help: "Count of workers currently in each health state, as of the last tick.",
		},
		[]string{stateLabel},
	)
	WorkersReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_workers_reaped_total",
			Help: "Count of terminate calls issued by the Reaper, by outcome.",
		},
		[]string{"outcome"},
	)
	WorkersLaunched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_workers_launched_total",
			Help: "Count of instances launched by the Scaler.",
		},
	)
	ProbeCounter = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetwatch_probes_in_flight",
			Help: "Count of health probes currently in flight.",
		},
		[]string{},
	)
	ProbeResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_probe_results_total",
			Help: "Count of health probe outcomes, by result.",
		},
		[]string{"result"},
	)
	DNSRecordsSynced = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetwatch_dns_records_synced",
			Help: "Count of A and AAAA records present under the fleet domain as of the last sync.",
		},
	)
	DNSSyncErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_dns_sync_errors_total",
			Help: "Count of DNS provider errors encountered while syncing.",
		},
	)
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_cache_requests_total",
			Help: "Count of artifact cache lookups, by outcome (miss, revalidated, stale).",
		},
		[]string{"outcome"},
	)
	CacheBytesInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetwatch_cache_bytes_in_use",
			Help: "Total bytes currently held by the in-memory artifact cache.",
		},
	)
	LockAcquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_lock_acquisitions_total",
			Help: "Count of lock acquisition attempts, by outcome (acquired, held_by_other, error).",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		TickDuration,
		TickErrors,
		FleetStateGauge,
		WorkersReaped,
		WorkersLaunched,
		ProbeCounter,
		ProbeResults,
		DNSRecordsSynced,
		DNSSyncErrors,
		CacheHits,
		CacheBytesInUse,
		LockAcquisitions,
	)
}
