package config

import (
	"time"

	"github.com/waterctl/waterctl/internal/reconnect"
	"github.com/waterctl/waterctl/internal/transport"
)

// CurrentVersion is the config file format version
const CurrentVersion = 1

// Transport kinds
const (
	TransportBLE       = "ble"
	TransportBridge    = "bridge"
	TransportSimulator = "simulator"
)

// Oracle kinds
const (
	OracleTable = "table"
	OracleExec  = "exec"
)

// Config represents the entire configuration file.
type Config struct {
	Version   int             `yaml:"version"`
	Device    DeviceConfig    `yaml:"device"`
	Transport TransportConfig `yaml:"transport"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Session   SessionConfig   `yaml:"session"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	UI        UIConfig        `yaml:"ui"`
}

// DeviceConfig binds the session to one controller. A scan result matches
// when either field matches.
type DeviceConfig struct {
	Name    string `yaml:"name"`              // Advertised name, e.g. "Water36088"
	Address string `yaml:"address,omitempty"` // MAC address, e.g. "6D:6C:00:02:73:63"
}

// TransportConfig selects how the radio is reached.
type TransportConfig struct {
	Kind   string       `yaml:"kind"` // ble, bridge or simulator
	Bridge BridgeConfig `yaml:"bridge,omitempty"`
}

// BridgeConfig locates a remote BLE gateway.
type BridgeConfig struct {
	URL             string        `yaml:"url,omitempty"`     // ws://host:port/ble; discovered via mDNS when empty
	Service         string        `yaml:"service,omitempty"` // mDNS service type
	Domain          string        `yaml:"domain,omitempty"`  // mDNS domain
	DiscoverTimeout time.Duration `yaml:"discover_timeout"`  // mDNS browse window
	RequestTimeout  time.Duration `yaml:"request_timeout"`   // per-operation gateway timeout
}

// OracleConfig selects the key derivation oracle.
type OracleConfig struct {
	Kind    string        `yaml:"kind,omitempty"`    // table or exec; empty disables key authentication
	Table   string        `yaml:"table,omitempty"`   // YAML file of captured vectors
	Command []string      `yaml:"command,omitempty"` // helper program and arguments
	Timeout time.Duration `yaml:"timeout,omitempty"` // per-derivation limit for the helper
}

// SessionConfig holds protocol timings.
type SessionConfig struct {
	ScanTimeout        time.Duration `yaml:"scan_timeout"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	OperationTimeout   time.Duration `yaml:"operation_timeout"`
	StartEpilogueDelay time.Duration `yaml:"start_epilogue_delay"`
	WriteAttempts      int           `yaml:"write_attempts"`
	WriteBackoff       time.Duration `yaml:"write_backoff"`
	DedupThreshold     int           `yaml:"dedup_threshold"`
	DedupTTL           time.Duration `yaml:"dedup_ttl"`
	DiagnosticsLimit   int           `yaml:"diagnostics_limit"`
}

// ReconnectConfig holds the automatic reconnect policy.
type ReconnectConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	Cap         time.Duration `yaml:"cap"`
}

// UIConfig holds terminal presentation settings.
type UIConfig struct {
	Countdown time.Duration `yaml:"countdown"` // expected usage window shown after B2
	LowTime   time.Duration `yaml:"low_time"`  // countdown turns to a warning below this
}

// Default returns a configuration for the reference controller over the
// local adapter.
func Default() *Config {
	policy := reconnect.DefaultPolicy()
	return &Config{
		Version: CurrentVersion,
		Device: DeviceConfig{
			Name:    "Water36088",
			Address: "6D:6C:00:02:73:63",
		},
		Transport: TransportConfig{
			Kind: TransportBLE,
			Bridge: BridgeConfig{
				Service:         "_waterctl._tcp",
				Domain:          "local.",
				DiscoverTimeout: 5 * time.Second,
				RequestTimeout:  10 * time.Second,
			},
		},
		Oracle: OracleConfig{
			Timeout: 5 * time.Second,
		},
		Session: SessionConfig{
			ScanTimeout:        15 * time.Second,
			HandshakeTimeout:   15 * time.Second,
			OperationTimeout:   15 * time.Second,
			StartEpilogueDelay: 500 * time.Millisecond,
			WriteAttempts:      3,
			WriteBackoff:       100 * time.Millisecond,
			DedupThreshold:     3,
			DedupTTL:           5 * time.Second,
			DiagnosticsLimit:   500,
		},
		Reconnect: ReconnectConfig{
			Enabled:     true,
			MaxAttempts: policy.MaxAttempts,
			BaseDelay:   policy.BaseDelay,
			Multiplier:  policy.Multiplier,
			Cap:         policy.Cap,
		},
		UI: UIConfig{
			Countdown: 420 * time.Second,
			LowTime:   120 * time.Second,
		},
	}
}

// Filter returns the scan filter for the configured device
func (c *Config) Filter() transport.Filter {
	return transport.Filter{Name: c.Device.Name, Address: c.Device.Address}
}

// ReconnectPolicy returns the backoff policy. A disabled reconnect is a
// policy with zero attempts.
func (c *Config) ReconnectPolicy() reconnect.Policy {
	p := reconnect.DefaultPolicy()
	p.MaxAttempts = c.Reconnect.MaxAttempts
	p.BaseDelay = c.Reconnect.BaseDelay
	p.Multiplier = c.Reconnect.Multiplier
	p.Cap = c.Reconnect.Cap
	if !c.Reconnect.Enabled {
		p.MaxAttempts = 0
	}
	return p
}
