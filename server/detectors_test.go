package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/khoa-s-development/SentinelProxy-sub002/config"
)

func testDetectorConfig() config.DetectorConfig {
	return config.DetectorConfig{
		ConnectionFloodThreshold: 50,
		SYNFloodThreshold:        100,
		UDPFloodThreshold:        1000,
		PortScanThreshold:        20,
	}
}

func TestFloodDetectorThresholdsAreExclusive(t *testing.T) {
	d := NewFloodDetector(testDetectorConfig())

	// A count exactly at the threshold passes; one past it fires.
	tests := []struct {
		name    string
		snap    TrafficSnapshot
		flagged bool
		which   string
	}{
		{"idle", TrafficSnapshot{}, false, ""},
		{"connections at threshold", TrafficSnapshot{ConnectionRate: 50}, false, ""},
		{"connections over threshold", TrafficSnapshot{ConnectionRate: 51}, true, "connection_flood"},
		{"syn at threshold", TrafficSnapshot{SYNRate: 100}, false, ""},
		{"syn over threshold", TrafficSnapshot{SYNRate: 101}, true, "syn_flood"},
		{"udp at threshold", TrafficSnapshot{UDPRate: 1000}, false, ""},
		{"udp over threshold", TrafficSnapshot{UDPRate: 1001}, true, "udp_flood"},
		{"ports at threshold", TrafficSnapshot{DistinctPorts: 20}, false, ""},
		{"ports over threshold", TrafficSnapshot{DistinctPorts: 21}, true, "port_scan"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := d.Check(tc.snap)
			assert.Equal(t, tc.flagged, result.Flagged)
			assert.Equal(t, tc.which, result.Detector)
		})
	}
}

func TestFloodDetectorShortCircuitOrder(t *testing.T) {
	d := NewFloodDetector(testDetectorConfig())

	// When several detectors would fire, only the first in the fixed order
	// (connection, SYN, UDP, port scan) is reported.
	snap := TrafficSnapshot{
		ConnectionRate: 51,
		SYNRate:        101,
		UDPRate:        1001,
		DistinctPorts:  21,
	}
	assert.Equal(t, "connection_flood", d.Check(snap).Detector)

	snap.ConnectionRate = 0
	assert.Equal(t, "syn_flood", d.Check(snap).Detector)

	snap.SYNRate = 0
	assert.Equal(t, "udp_flood", d.Check(snap).Detector)

	snap.UDPRate = 0
	assert.Equal(t, "port_scan", d.Check(snap).Detector)
}

func TestFloodDetectorWithTracker(t *testing.T) {
	tracker, _ := newTestTracker(t)
	d := NewFloodDetector(config.DetectorConfig{
		ConnectionFloodThreshold: 3,
		SYNFloodThreshold:        100,
		UDPFloodThreshold:        1000,
		PortScanThreshold:        20,
	})

	for i := 0; i < 3; i++ {
		tracker.RecordConnection("10.0.0.1", 25565)
	}
	assert.False(t, d.Check(tracker.Snapshot("10.0.0.1")).Flagged)

	tracker.RecordConnection("10.0.0.1", 25565)
	result := d.Check(tracker.Snapshot("10.0.0.1"))
	assert.True(t, result.Flagged)
	assert.Equal(t, "connection_flood", result.Detector)
}
