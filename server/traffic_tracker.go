package server

import (
	"sync"
	"time"

	"github.com/khoa-s-development/SentinelProxy-sub002/cache"
	"github.com/khoa-s-development/SentinelProxy-sub002/config"
	"github.com/khoa-s-development/SentinelProxy-sub002/pkg/metrics"
)

// EventKind identifies a class of protocol-burst events tracked per source
// address.
type EventKind int

const (
	// EventConnection is a new inbound connection.
	EventConnection EventKind = iota
	// EventSYN is a TCP handshake-level burst event.
	EventSYN
	// EventUDP is a datagram-level burst event.
	EventUDP
)

func (k EventKind) String() string {
	switch k {
	case EventConnection:
		return "connection"
	case EventSYN:
		return "syn"
	case EventUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// TrackerWindows holds the sliding-window length per event kind.
type TrackerWindows struct {
	Connection time.Duration
	SYN        time.Duration
	UDP        time.Duration
	PortScan   time.Duration
}

// addressTracker holds the traffic state for a single source address. All
// fields are guarded by mu; each record or query takes the lock once so
// append, prune and count are atomic with respect to one another.
type addressTracker struct {
	mu sync.Mutex

	connections []time.Time
	synEvents   []time.Time
	udpEvents   []time.Time

	// ports maps destination port to the last time it was seen, pruned
	// against the port-scan window on access.
	ports map[int]time.Time

	activeConnections int
}

// TrafficTracker maintains per-source-address sliding-window counters.
// Trackers are created lazily on first event and evicted by the backing
// store after a period of inactivity; application code never deletes them.
type TrafficTracker struct {
	windows  TrackerWindows
	trackers *cache.Expiring[string, *addressTracker]

	// now is replaceable in tests.
	now func() time.Time
}

// NewTrafficTracker builds a tracker from configuration.
func NewTrafficTracker(cfg config.TrackerConfig) (*TrafficTracker, error) {
	connWindow, err := cfg.GetConnectionWindow()
	if err != nil {
		return nil, err
	}
	synWindow, err := cfg.GetSYNWindow()
	if err != nil {
		return nil, err
	}
	udpWindow, err := cfg.GetUDPWindow()
	if err != nil {
		return nil, err
	}
	portWindow, err := cfg.GetPortScanWindow()
	if err != nil {
		return nil, err
	}
	idleExpiry, err := cfg.GetIdleExpiry()
	if err != nil {
		return nil, err
	}

	return &TrafficTracker{
		windows: TrackerWindows{
			Connection: connWindow,
			SYN:        synWindow,
			UDP:        udpWindow,
			PortScan:   portWindow,
		},
		trackers: cache.New[string, *addressTracker](cache.ExpireAfterAccess, idleExpiry),
		now:      time.Now,
	}, nil
}

func (t *TrafficTracker) trackerFor(addr string) *addressTracker {
	at, _ := t.trackers.GetOrStore(addr, func() *addressTracker {
		return &addressTracker{ports: make(map[int]time.Time)}
	})
	return at
}

// pruneLocked drops timestamps older than window from events. Caller holds
// the tracker mutex.
func pruneLocked(events []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(events); i++ {
		if events[i].After(cutoff) {
			break
		}
	}
	if i == 0 {
		return events
	}
	return append(events[:0], events[i:]...)
}

// RecordConnection records an inbound connection from addr to the given
// destination port and increments the address's active-connection count.
func (t *TrafficTracker) RecordConnection(addr string, port int) {
	at := t.trackerFor(addr)
	now := t.now()

	at.mu.Lock()
	at.connections = append(at.connections, now)
	at.connections = pruneLocked(at.connections, now, t.windows.Connection)
	at.ports[port] = now
	at.activeConnections++
	at.mu.Unlock()
}

// Release decrements the active-connection count for addr when a connection
// closes. The tracker itself stays alive until the store evicts it.
func (t *TrafficTracker) Release(addr string) {
	at, ok := t.trackers.Get(addr)
	if !ok {
		return
	}
	at.mu.Lock()
	if at.activeConnections > 0 {
		at.activeConnections--
	}
	at.mu.Unlock()
}

// RecordEvent records a protocol-burst event of the given kind from addr.
// EventConnection is not valid here; connections carry a port and go
// through RecordConnection.
func (t *TrafficTracker) RecordEvent(addr string, kind EventKind) {
	at := t.trackerFor(addr)
	now := t.now()

	at.mu.Lock()
	switch kind {
	case EventSYN:
		at.synEvents = append(at.synEvents, now)
		at.synEvents = pruneLocked(at.synEvents, now, t.windows.SYN)
	case EventUDP:
		at.udpEvents = append(at.udpEvents, now)
		at.udpEvents = pruneLocked(at.udpEvents, now, t.windows.UDP)
	}
	at.mu.Unlock()
}

// RecordTraffic feeds aggregate byte/packet counters for addr. These flow
// into process-wide metrics only; they do not influence detection.
func (t *TrafficTracker) RecordTraffic(addr string, bytes int) {
	// Touch the tracker so the address counts as active.
	t.trackerFor(addr)
	metrics.TrafficPacketsTotal.Inc()
	metrics.TrafficBytesTotal.Add(float64(bytes))
}

// Rate returns the number of events of the given kind from addr within the
// kind's window. The sequence is pruned before counting.
func (t *TrafficTracker) Rate(addr string, kind EventKind) int {
	at, ok := t.trackers.Get(addr)
	if !ok {
		return 0
	}
	now := t.now()

	at.mu.Lock()
	defer at.mu.Unlock()
	switch kind {
	case EventConnection:
		at.connections = pruneLocked(at.connections, now, t.windows.Connection)
		return len(at.connections)
	case EventSYN:
		at.synEvents = pruneLocked(at.synEvents, now, t.windows.SYN)
		return len(at.synEvents)
	case EventUDP:
		at.udpEvents = pruneLocked(at.udpEvents, now, t.windows.UDP)
		return len(at.udpEvents)
	default:
		return 0
	}
}

// DistinctPorts returns how many distinct destination ports addr has touched
// within the port-scan window.
func (t *TrafficTracker) DistinctPorts(addr string) int {
	at, ok := t.trackers.Get(addr)
	if !ok {
		return 0
	}
	cutoff := t.now().Add(-t.windows.PortScan)

	at.mu.Lock()
	defer at.mu.Unlock()
	for port, seen := range at.ports {
		if !seen.After(cutoff) {
			delete(at.ports, port)
		}
	}
	return len(at.ports)
}

// ActiveConnections returns the current open-connection count for addr.
func (t *TrafficTracker) ActiveConnections(addr string) int {
	at, ok := t.trackers.Get(addr)
	if !ok {
		return 0
	}
	at.mu.Lock()
	defer at.mu.Unlock()
	return at.activeConnections
}

// Snapshot returns the current window counts for addr in one pass, for the
// detectors to evaluate. All four counts are pruned and read under a single
// acquisition of the address lock.
func (t *TrafficTracker) Snapshot(addr string) TrafficSnapshot {
	at, ok := t.trackers.Get(addr)
	if !ok {
		return TrafficSnapshot{Address: addr}
	}
	now := t.now()
	portCutoff := now.Add(-t.windows.PortScan)

	at.mu.Lock()
	defer at.mu.Unlock()

	at.connections = pruneLocked(at.connections, now, t.windows.Connection)
	at.synEvents = pruneLocked(at.synEvents, now, t.windows.SYN)
	at.udpEvents = pruneLocked(at.udpEvents, now, t.windows.UDP)
	for port, seen := range at.ports {
		if !seen.After(portCutoff) {
			delete(at.ports, port)
		}
	}

	return TrafficSnapshot{
		Address:           addr,
		ConnectionRate:    len(at.connections),
		SYNRate:           len(at.synEvents),
		UDPRate:           len(at.udpEvents),
		DistinctPorts:     len(at.ports),
		ActiveConnections: at.activeConnections,
	}
}

// TrackedAddresses returns the number of addresses with live tracking state.
func (t *TrafficTracker) TrackedAddresses() int {
	return t.trackers.Len()
}

// Sweep physically removes trackers idle past their expiry and refreshes the
// tracked-address gauge. Called by the maintenance scheduler.
func (t *TrafficTracker) Sweep() int {
	removed := t.trackers.Sweep()
	metrics.TrackedAddressesCurrent.Set(float64(t.trackers.Len()))
	return removed
}
