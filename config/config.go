// Package config defines the TOML configuration for the sentinel admission
// layer. Duration values are strings ("1s", "10m", "24h", "7d") parsed
// through accessor methods so a malformed value surfaces as a validation
// error instead of a silent zero.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/khoa-s-development/SentinelProxy-sub002/helpers"
	"github.com/khoa-s-development/SentinelProxy-sub002/logger"
)

// Config is the root configuration document.
type Config struct {
	Logging  logger.Config  `toml:"logging"`
	Security SecurityConfig `toml:"security"`
	AdminAPI AdminAPIConfig `toml:"admin_api"`
}

// SecurityConfig configures the admission coordinator and its components.
type SecurityConfig struct {
	Enabled            bool   `toml:"enabled"`              // Master switch; disabled means allow-all
	FloodChecksEnabled bool   `toml:"flood_checks_enabled"` // Run flood detectors on connection admission
	Level              string `toml:"level"`                // Initial security level: low, medium, high, extreme

	Tracker       TrackerConfig       `toml:"tracker"`
	Detectors     DetectorConfig      `toml:"detectors"`
	Connections   RateLimiterConfig   `toml:"connections"` // Per-address connection token bucket
	AccessControl AccessControlConfig `toml:"access_control"`
	Maintenance   MaintenanceConfig   `toml:"maintenance"`
}

// TrackerConfig holds the sliding-window lengths for per-address traffic
// tracking.
type TrackerConfig struct {
	ConnectionWindow string `toml:"connection_window"` // Window for connection-rate counting
	SYNWindow        string `toml:"syn_window"`        // Window for SYN-burst counting
	UDPWindow        string `toml:"udp_window"`        // Window for UDP-burst counting
	PortScanWindow   string `toml:"port_scan_window"`  // Window for distinct-port counting
	IdleExpiry       string `toml:"idle_expiry"`       // How long an inactive tracker survives
}

func (c TrackerConfig) GetConnectionWindow() (time.Duration, error) {
	return helpers.ParseDuration(c.ConnectionWindow)
}

func (c TrackerConfig) GetSYNWindow() (time.Duration, error) {
	return helpers.ParseDuration(c.SYNWindow)
}

func (c TrackerConfig) GetUDPWindow() (time.Duration, error) {
	return helpers.ParseDuration(c.UDPWindow)
}

func (c TrackerConfig) GetPortScanWindow() (time.Duration, error) {
	return helpers.ParseDuration(c.PortScanWindow)
}

func (c TrackerConfig) GetIdleExpiry() (time.Duration, error) {
	return helpers.ParseDuration(c.IdleExpiry)
}

// DetectorConfig holds flood and scan detection thresholds. All comparisons
// are strict: a rate must exceed the threshold to flag abuse.
type DetectorConfig struct {
	ConnectionFloodThreshold int `toml:"connection_flood_threshold"` // Connections per window per address
	SYNFloodThreshold        int `toml:"syn_flood_threshold"`        // SYN events per window per address
	UDPFloodThreshold        int `toml:"udp_flood_threshold"`        // UDP events per window per address
	PortScanThreshold        int `toml:"port_scan_threshold"`        // Distinct ports per window per address
}

// RateLimiterConfig configures a token-bucket rate limiter.
type RateLimiterConfig struct {
	MaxTokens      int    `toml:"max_tokens"`      // Bucket capacity
	RefillInterval string `toml:"refill_interval"` // One token credited per elapsed interval
	IdleExpiry     string `toml:"idle_expiry"`     // Idle buckets are evicted after this
}

func (c RateLimiterConfig) GetRefillInterval() (time.Duration, error) {
	return helpers.ParseDuration(c.RefillInterval)
}

func (c RateLimiterConfig) GetIdleExpiry() (time.Duration, error) {
	return helpers.ParseDuration(c.IdleExpiry)
}

// AccessControlConfig configures the blacklist, login throttling, session
// tracking and behavioral profiles.
type AccessControlConfig struct {
	MaxLoginAttemptsPerAddress int    `toml:"max_login_attempts_per_address"` // Attempts before auto-blacklist
	LoginAttemptWindow         string `toml:"login_attempt_window"`           // TTL of the attempt counter
	BlacklistDuration          string `toml:"blacklist_duration"`             // Duration of automatic blacklists
	SessionIdleExpiry          string `toml:"session_idle_expiry"`            // Idle session eviction
	ProfileIdleExpiry          string `toml:"profile_idle_expiry"`            // Idle profile eviction
	EventWindow                string `toml:"event_window"`                   // TTL of named security-event counters
	MaxViolations              int    `toml:"max_violations"`                 // Violation ceiling for player admission
}

func (c AccessControlConfig) GetLoginAttemptWindow() (time.Duration, error) {
	return helpers.ParseDuration(c.LoginAttemptWindow)
}

func (c AccessControlConfig) GetBlacklistDuration() (time.Duration, error) {
	return helpers.ParseDuration(c.BlacklistDuration)
}

func (c AccessControlConfig) GetSessionIdleExpiry() (time.Duration, error) {
	return helpers.ParseDuration(c.SessionIdleExpiry)
}

func (c AccessControlConfig) GetProfileIdleExpiry() (time.Duration, error) {
	return helpers.ParseDuration(c.ProfileIdleExpiry)
}

func (c AccessControlConfig) GetEventWindow() (time.Duration, error) {
	return helpers.ParseDuration(c.EventWindow)
}

// MaintenanceConfig configures the background maintenance scheduler.
type MaintenanceConfig struct {
	CounterSweepInterval string `toml:"counter_sweep_interval"` // Fast tick: traffic tracker sweeps
	StoreSweepInterval   string `toml:"store_sweep_interval"`   // Slow tick: stale-entry sweeps
}

func (c MaintenanceConfig) GetCounterSweepInterval() (time.Duration, error) {
	return helpers.ParseDuration(c.CounterSweepInterval)
}

func (c MaintenanceConfig) GetStoreSweepInterval() (time.Duration, error) {
	return helpers.ParseDuration(c.StoreSweepInterval)
}

// AdminAPIConfig configures the management HTTP API.
type AdminAPIConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	APIKey  string `toml:"api_key"`
}

// NewDefaultConfig returns the application defaults. They match the
// documented detection thresholds: 50 connections/s, 100 SYN/s, 1000 UDP/s,
// 20 distinct ports/min, 5 login attempts per 10 minutes escalating to a
// 24 hour blacklist.
func NewDefaultConfig() Config {
	return Config{
		Logging: logger.Config{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Security: SecurityConfig{
			Enabled:            true,
			FloodChecksEnabled: true,
			Level:              "medium",
			Tracker: TrackerConfig{
				ConnectionWindow: "1s",
				SYNWindow:        "1s",
				UDPWindow:        "1s",
				PortScanWindow:   "1m",
				IdleExpiry:       "10m",
			},
			Detectors: DetectorConfig{
				ConnectionFloodThreshold: 50,
				SYNFloodThreshold:        100,
				UDPFloodThreshold:        1000,
				PortScanThreshold:        20,
			},
			Connections: RateLimiterConfig{
				MaxTokens:      10,
				RefillInterval: "1s",
				IdleExpiry:     "1h",
			},
			AccessControl: AccessControlConfig{
				MaxLoginAttemptsPerAddress: 5,
				LoginAttemptWindow:         "10m",
				BlacklistDuration:          "24h",
				SessionIdleExpiry:          "30m",
				ProfileIdleExpiry:          "24h",
				EventWindow:                "1h",
				MaxViolations:              10,
			},
			Maintenance: MaintenanceConfig{
				CounterSweepInterval: "1s",
				StoreSweepInterval:   "5m",
			},
		},
		AdminAPI: AdminAPIConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
			APIKey:  "",
		},
	}
}

// LoadFromFile decodes a TOML file over the defaults, so a partial file
// only overrides what it mentions.
func LoadFromFile(path string) (Config, error) {
	cfg := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the whole document and returns the first problem found.
func (c Config) Validate() error {
	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("security: %w", err)
	}
	if c.AdminAPI.Enabled {
		if c.AdminAPI.Addr == "" {
			return fmt.Errorf("admin_api: addr is required when enabled")
		}
		if c.AdminAPI.APIKey == "" {
			return fmt.Errorf("admin_api: api_key is required when enabled")
		}
	}
	return nil
}

// Validate checks thresholds, windows and durations.
func (c SecurityConfig) Validate() error {
	switch c.Level {
	case "", "low", "medium", "high", "extreme":
	default:
		return fmt.Errorf("unknown security level %q", c.Level)
	}

	if c.Detectors.ConnectionFloodThreshold <= 0 ||
		c.Detectors.SYNFloodThreshold <= 0 ||
		c.Detectors.UDPFloodThreshold <= 0 ||
		c.Detectors.PortScanThreshold <= 0 {
		return fmt.Errorf("detector thresholds must be positive")
	}

	for name, get := range map[string]func() (time.Duration, error){
		"tracker.connection_window":           c.Tracker.GetConnectionWindow,
		"tracker.syn_window":                  c.Tracker.GetSYNWindow,
		"tracker.udp_window":                  c.Tracker.GetUDPWindow,
		"tracker.port_scan_window":            c.Tracker.GetPortScanWindow,
		"tracker.idle_expiry":                 c.Tracker.GetIdleExpiry,
		"connections.refill_interval":         c.Connections.GetRefillInterval,
		"connections.idle_expiry":             c.Connections.GetIdleExpiry,
		"access_control.login_attempt_window": c.AccessControl.GetLoginAttemptWindow,
		"access_control.blacklist_duration":   c.AccessControl.GetBlacklistDuration,
		"access_control.session_idle_expiry":  c.AccessControl.GetSessionIdleExpiry,
		"access_control.profile_idle_expiry":  c.AccessControl.GetProfileIdleExpiry,
		"access_control.event_window":         c.AccessControl.GetEventWindow,
		"maintenance.counter_sweep_interval":  c.Maintenance.GetCounterSweepInterval,
		"maintenance.store_sweep_interval":    c.Maintenance.GetStoreSweepInterval,
	} {
		d, err := get()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.Connections.MaxTokens <= 0 {
		return fmt.Errorf("connections.max_tokens must be positive")
	}
	if c.AccessControl.MaxLoginAttemptsPerAddress <= 0 {
		return fmt.Errorf("access_control.max_login_attempts_per_address must be positive")
	}
	if c.AccessControl.MaxViolations <= 0 {
		return fmt.Errorf("access_control.max_violations must be positive")
	}
	return nil
}
