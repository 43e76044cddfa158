package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admission decision metrics
var (
	AdmissionDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_admission_decisions_total",
			Help: "Total number of admission decisions made",
		},
		[]string{"check", "decision"},
	)

	FloodDetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_flood_detections_total",
			Help: "Total number of flood/scan detections by detector",
		},
		[]string{"detector"},
	)

	InternalFaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_internal_faults_total",
			Help: "Total number of internal faults converted to deny decisions",
		},
		[]string{"operation"},
	)
)

// Rate limiting metrics
var (
	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_rate_limit_decisions_total",
			Help: "Total number of token bucket acquire attempts",
		},
		[]string{"limiter", "result"},
	)

	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_login_attempts_total",
			Help: "Total number of recorded login attempts",
		},
		[]string{"result"},
	)

	AutoBlacklistsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_auto_blacklists_total",
			Help: "Total number of addresses blacklisted by login throttling",
		},
	)
)

// Traffic tracking metrics
var (
	TrafficBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_traffic_bytes_total",
			Help: "Total number of bytes observed across all tracked sources",
		},
	)

	TrafficPacketsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_traffic_packets_total",
			Help: "Total number of packets observed across all tracked sources",
		},
	)

	TrackedAddressesCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_tracked_addresses_current",
			Help: "Current number of source addresses with live tracking state",
		},
	)
)

// Store metrics
var (
	StoreEntriesCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_store_entries_current",
			Help: "Current number of entries per expiring store",
		},
		[]string{"store"},
	)

	ActiveSessionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_active_sessions_current",
			Help: "Current number of active sessions",
		},
	)

	BlacklistSizeCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_blacklist_size_current",
			Help: "Current number of blacklisted addresses",
		},
	)
)

// Maintenance metrics
var (
	MaintenanceTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_maintenance_ticks_total",
			Help: "Total number of maintenance ticks by schedule and status",
		},
		[]string{"schedule", "status"},
	)

	MaintenanceSweptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_maintenance_swept_total",
			Help: "Total number of expired entries physically removed per store",
		},
		[]string{"store"},
	)
)
