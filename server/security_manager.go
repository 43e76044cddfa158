package server

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khoa-s-development/SentinelProxy-sub002/config"
	"github.com/khoa-s-development/SentinelProxy-sub002/consts"
	"github.com/khoa-s-development/SentinelProxy-sub002/helpers"
	"github.com/khoa-s-development/SentinelProxy-sub002/logger"
	"github.com/khoa-s-development/SentinelProxy-sub002/pkg/metrics"
)

// SecurityLevel is the operator-adjustable posture of the admission layer.
type SecurityLevel int32

const (
	LevelLow SecurityLevel = iota
	LevelMedium
	LevelHigh
	LevelExtreme
)

func (l SecurityLevel) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelExtreme:
		return "extreme"
	default:
		return "unknown"
	}
}

// ParseSecurityLevel converts a config string into a SecurityLevel.
func ParseSecurityLevel(s string) (SecurityLevel, bool) {
	switch strings.ToLower(s) {
	case "low":
		return LevelLow, true
	case "medium":
		return LevelMedium, true
	case "high":
		return LevelHigh, true
	case "extreme":
		return LevelExtreme, true
	default:
		return LevelMedium, false
	}
}

// Stats is a point-in-time summary of the admission layer for operators.
type Stats struct {
	SecurityLevel    string `json:"security_level"`
	TrackedAddresses int    `json:"tracked_addresses"`
	BlacklistSize    int    `json:"blacklist_size"`
	WhitelistSize    int    `json:"whitelist_size"`
	ActiveSessions   int    `json:"active_sessions"`
	ActiveBuckets    int    `json:"active_buckets"`
}

// SecurityManager is the admission facade in front of the proxy. Every
// decision path is fail-closed: an internal fault in a check denies the
// subject rather than letting it through.
type SecurityManager struct {
	enabled     bool
	floodChecks bool
	level       atomic.Int32

	tracker     *TrafficTracker
	detector    *FloodDetector
	connections *RateLimiter[string]
	access      *AccessStore

	counterSweepInterval time.Duration
	storeSweepInterval   time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSecurityManager wires the admission components from configuration.
func NewSecurityManager(cfg config.SecurityConfig) (*SecurityManager, error) {
	tracker, err := NewTrafficTracker(cfg.Tracker)
	if err != nil {
		return nil, err
	}
	connections, err := NewRateLimiter[string]("connections", cfg.Connections)
	if err != nil {
		return nil, err
	}
	access, err := NewAccessStore(cfg.AccessControl)
	if err != nil {
		return nil, err
	}
	counterSweep, err := cfg.Maintenance.GetCounterSweepInterval()
	if err != nil {
		return nil, err
	}
	storeSweep, err := cfg.Maintenance.GetStoreSweepInterval()
	if err != nil {
		return nil, err
	}

	m := &SecurityManager{
		enabled:              cfg.Enabled,
		floodChecks:          cfg.FloodChecksEnabled,
		tracker:              tracker,
		detector:             NewFloodDetector(cfg.Detectors),
		connections:          connections,
		access:               access,
		counterSweepInterval: counterSweep,
		storeSweepInterval:   storeSweep,
		stopCh:               make(chan struct{}),
	}
	level, ok := ParseSecurityLevel(cfg.Level)
	if !ok {
		logger.Warn("unknown security level in config, using medium", "level", cfg.Level)
	}
	m.level.Store(int32(level))
	return m, nil
}

// Level returns the current security level.
func (m *SecurityManager) Level() SecurityLevel {
	return SecurityLevel(m.level.Load())
}

// SetLevel changes the security level at runtime.
func (m *SecurityManager) SetLevel(level SecurityLevel) {
	old := SecurityLevel(m.level.Swap(int32(level)))
	if old != level {
		logger.Info("security level changed", "from", old.String(), "to", level.String())
	}
}

// guard converts a panic inside a decision path into a denial. Decision
// methods defer it and report results through the named return.
func (m *SecurityManager) guard(operation string, allowed *bool) {
	if r := recover(); r != nil {
		metrics.InternalFaultsTotal.WithLabelValues(operation).Inc()
		logger.Error("internal fault during admission check, denying",
			"operation", operation, "panic", r)
		*allowed = false
	}
}

// IsConnectionAllowed decides whether a new connection from addr may be
// admitted. Whitelisted addresses bypass every other check. Otherwise the
// address must not be blacklisted and must hold a connection token.
func (m *SecurityManager) IsConnectionAllowed(addr string) (allowed bool) {
	defer m.guard("connection_admission", &allowed)
	return m.admitConnection(addr) == nil
}

// AdmitConnection is the error-returning form of IsConnectionAllowed, for
// callers that surface a denial reason to the client.
func (m *SecurityManager) AdmitConnection(addr string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.InternalFaultsTotal.WithLabelValues("connection_admission").Inc()
			logger.Error("internal fault during admission check, denying",
				"operation", "connection_admission", "panic", r)
			err = consts.ErrInternalError
		}
	}()
	return m.admitConnection(addr)
}

func (m *SecurityManager) admitConnection(addr string) error {
	if !m.enabled {
		return nil
	}
	if m.access.IsWhitelisted(addr) {
		metrics.AdmissionDecisionsTotal.WithLabelValues("whitelist", "allowed").Inc()
		return nil
	}
	if m.access.IsBlacklisted(addr) {
		metrics.AdmissionDecisionsTotal.WithLabelValues("blacklist", "denied").Inc()
		return consts.ErrBlacklisted
	}
	if !m.connections.TryAcquire(addr) {
		metrics.AdmissionDecisionsTotal.WithLabelValues("rate_limit", "denied").Inc()
		logger.Debug("connection rate limit exceeded", "address", helpers.MaskAddress(addr))
		return consts.ErrConnectionDenied
	}
	metrics.AdmissionDecisionsTotal.WithLabelValues("rate_limit", "allowed").Inc()
	return nil
}

// AnalyzeConnection records a connection from addr to port and runs the
// flood detectors over the address's updated traffic state. It reports
// whether the connection may proceed. Malformed addresses are denied.
func (m *SecurityManager) AnalyzeConnection(addr string, port int) (allowed bool) {
	defer m.guard("traffic_analysis", &allowed)

	if !m.enabled || !m.floodChecks {
		return true
	}
	if net.ParseIP(addr) == nil {
		metrics.AdmissionDecisionsTotal.WithLabelValues("analysis", "denied").Inc()
		logger.Debug("rejecting unparseable address", "address", helpers.MaskAddress(addr))
		return false
	}

	m.tracker.RecordConnection(addr, port)
	result := m.detector.Check(m.tracker.Snapshot(addr))
	if result.Flagged {
		metrics.AdmissionDecisionsTotal.WithLabelValues("analysis", "denied").Inc()
		m.access.RecordEvent(addr, result.Detector)
		return false
	}
	metrics.AdmissionDecisionsTotal.WithLabelValues("analysis", "allowed").Inc()
	return true
}

// RecordPacket records a protocol-burst event observed on an established
// flow and reports whether the flow is still within bounds.
func (m *SecurityManager) RecordPacket(addr string, kind EventKind) (allowed bool) {
	defer m.guard("packet_analysis", &allowed)

	if !m.enabled || !m.floodChecks {
		return true
	}
	m.tracker.RecordEvent(addr, kind)
	result := m.detector.Check(m.tracker.Snapshot(addr))
	if result.Flagged {
		m.access.RecordEvent(addr, result.Detector)
		return false
	}
	return true
}

// ConnectionClosed releases the active-connection slot held by addr.
func (m *SecurityManager) ConnectionClosed(addr string) {
	m.tracker.Release(addr)
}

// IsPlayerAllowed decides whether an authenticated identity from addr may
// join: the address must pass login throttling and the identity's profile
// must be in good standing.
func (m *SecurityManager) IsPlayerAllowed(identity, addr string) (allowed bool) {
	defer m.guard("player_admission", &allowed)

	if !m.enabled {
		return true
	}
	if m.access.IsWhitelisted(addr) {
		metrics.AdmissionDecisionsTotal.WithLabelValues("whitelist", "allowed").Inc()
		return true
	}
	if !m.access.CanLogin(addr) {
		metrics.AdmissionDecisionsTotal.WithLabelValues("login_throttle", "denied").Inc()
		return false
	}
	if !m.access.IsIdentityAllowed(identity) {
		metrics.AdmissionDecisionsTotal.WithLabelValues("profile", "denied").Inc()
		logger.Info("identity denied by profile standing", "identity", identity)
		return false
	}
	metrics.AdmissionDecisionsTotal.WithLabelValues("profile", "allowed").Inc()
	return true
}

// RecordLoginAttempt forwards to the access store's attempt counter.
func (m *SecurityManager) RecordLoginAttempt(addr string) error {
	if !m.enabled {
		return nil
	}
	return m.access.RecordLoginAttempt(addr)
}

// LoginSucceeded clears addr's attempt counter and opens a session for
// identity, returning the session ID.
func (m *SecurityManager) LoginSucceeded(identity, addr string) (string, error) {
	if !m.enabled {
		return "", nil
	}
	m.access.ClearLoginAttempts(addr)
	return m.access.StartSession(identity, addr)
}

// EndSession closes the session with the given ID.
func (m *SecurityManager) EndSession(sessionID string) error {
	if !m.enabled {
		return nil
	}
	return m.access.EndSession(sessionID)
}

// AddSecurityEvent increments the named event counter for addr.
func (m *SecurityManager) AddSecurityEvent(addr, event string) int {
	return m.access.RecordEvent(addr, event)
}

// SecurityEventCount returns the live count of the named event for addr.
func (m *SecurityManager) SecurityEventCount(addr, event string) int {
	return m.access.EventCount(addr, event)
}

// Access exposes the underlying access store for management surfaces.
func (m *SecurityManager) Access() *AccessStore {
	return m.access
}

// Tracker exposes the traffic tracker for management surfaces.
func (m *SecurityManager) Tracker() *TrafficTracker {
	return m.tracker
}

// Stats returns a point-in-time operational summary.
func (m *SecurityManager) Stats() Stats {
	return Stats{
		SecurityLevel:    m.Level().String(),
		TrackedAddresses: m.tracker.TrackedAddresses(),
		BlacklistSize:    m.access.BlacklistSize(),
		WhitelistSize:    m.access.WhitelistSize(),
		ActiveSessions:   m.access.ActiveSessions(),
		ActiveBuckets:    m.connections.ActiveBuckets(),
	}
}

// Start launches the maintenance loops: a fast tick sweeping the traffic
// tracker and a slow tick sweeping every TTL store and logging a stats
// summary. Both loops survive a panicking tick.
func (m *SecurityManager) Start() {
	if !m.enabled {
		logger.Warn("security manager disabled, all subjects will be admitted")
		return
	}
	m.wg.Add(2)
	go m.runMaintenance("counter_sweep", m.counterSweepInterval, func() {
		m.tracker.Sweep()
		m.connections.Sweep()
	})
	go m.runMaintenance("store_sweep", m.storeSweepInterval, func() {
		removed := m.access.Sweep()
		stats := m.Stats()
		logger.Info("maintenance sweep complete",
			"removed", removed,
			"tracked_addresses", stats.TrackedAddresses,
			"blacklist_size", stats.BlacklistSize,
			"active_sessions", stats.ActiveSessions,
			"security_level", stats.SecurityLevel)
	})
	logger.Info("security manager started", "security_level", m.Level().String())
}

func (m *SecurityManager) runMaintenance(name string, interval time.Duration, fn func()) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := func() {
		defer func() {
			if r := recover(); r != nil {
				metrics.MaintenanceTicksTotal.WithLabelValues(name, "panic").Inc()
				logger.Error("maintenance tick panicked", "schedule", name, "panic", r)
			}
		}()
		fn()
		metrics.MaintenanceTicksTotal.WithLabelValues(name, "ok").Inc()
	}

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			tick()
		}
	}
}

// Stop halts the maintenance loops, waiting up to the context deadline for
// them to exit.
func (m *SecurityManager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopCh) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("security manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
