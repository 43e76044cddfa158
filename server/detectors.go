package server

import (
	"github.com/khoa-s-development/SentinelProxy-sub002/config"
	"github.com/khoa-s-development/SentinelProxy-sub002/helpers"
	"github.com/khoa-s-development/SentinelProxy-sub002/logger"
	"github.com/khoa-s-development/SentinelProxy-sub002/pkg/metrics"
)

// TrafficSnapshot is a point-in-time view of one address's window counts,
// produced by TrafficTracker.Snapshot and consumed by the detectors.
type TrafficSnapshot struct {
	Address           string
	ConnectionRate    int
	SYNRate           int
	UDPRate           int
	DistinctPorts     int
	ActiveConnections int
}

// DetectionResult names which detector flagged a snapshot, if any.
type DetectionResult struct {
	Flagged  bool
	Detector string
}

// FloodDetector evaluates traffic snapshots against configured thresholds.
// All comparisons are strictly greater-than: a count exactly at the
// threshold passes.
type FloodDetector struct {
	connectionThreshold int
	synThreshold        int
	udpThreshold        int
	portScanThreshold   int
}

// NewFloodDetector builds a detector from configuration.
func NewFloodDetector(cfg config.DetectorConfig) *FloodDetector {
	return &FloodDetector{
		connectionThreshold: cfg.ConnectionFloodThreshold,
		synThreshold:        cfg.SYNFloodThreshold,
		udpThreshold:        cfg.UDPFloodThreshold,
		portScanThreshold:   cfg.PortScanThreshold,
	}
}

// Check runs the detectors in fixed order: connection flood, SYN flood,
// UDP flood, port scan. The first detector that fires short-circuits the
// rest, so one snapshot yields at most one detection.
func (d *FloodDetector) Check(snap TrafficSnapshot) DetectionResult {
	if snap.ConnectionRate > d.connectionThreshold {
		return d.flag(snap, "connection_flood", snap.ConnectionRate, d.connectionThreshold)
	}
	if snap.SYNRate > d.synThreshold {
		return d.flag(snap, "syn_flood", snap.SYNRate, d.synThreshold)
	}
	if snap.UDPRate > d.udpThreshold {
		return d.flag(snap, "udp_flood", snap.UDPRate, d.udpThreshold)
	}
	if snap.DistinctPorts > d.portScanThreshold {
		return d.flag(snap, "port_scan", snap.DistinctPorts, d.portScanThreshold)
	}
	return DetectionResult{}
}

func (d *FloodDetector) flag(snap TrafficSnapshot, detector string, count, threshold int) DetectionResult {
	metrics.FloodDetectionsTotal.WithLabelValues(detector).Inc()
	logger.Warn("traffic anomaly detected",
		"detector", detector,
		"address", helpers.MaskAddress(snap.Address),
		"count", count,
		"threshold", threshold)
	return DetectionResult{Flagged: true, Detector: detector}
}
