package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	appName    = "waterctl"
	configFile = "config.yaml"
)

// Mutex for thread-safe file operations
var fileMutex sync.Mutex

// GetConfigDir returns the OS-appropriate configuration directory for the application.
// This follows platform conventions:
//   - Linux: $XDG_CONFIG_HOME/waterctl or $HOME/.config/waterctl
//   - macOS: $HOME/.config/waterctl (following XDG convention on macOS)
//   - Windows: %LOCALAPPDATA%\waterctl
func GetConfigDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".config", appName)

	default:
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome != "" {
			baseDir = filepath.Join(xdgConfigHome, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return baseDir, nil
}

// GetConfigPath returns the full path to the default configuration file.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFile), nil
}

// Load reads the configuration at path, or at GetConfigPath when path is
// empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document. Fields it does not set keep their
// defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Version = 0
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version: %d (expected %d)", cfg.Version, CurrentVersion)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the session cannot run with
func (c *Config) Validate() error {
	if c.Device.Name == "" && c.Device.Address == "" {
		return fmt.Errorf("device: name or address is required")
	}
	if c.Oracle.Kind != "" && len([]rune(c.Device.Name)) < 5 {
		return fmt.Errorf("device: name %q is too short for key authentication", c.Device.Name)
	}

	switch c.Transport.Kind {
	case TransportBLE, TransportBridge, TransportSimulator:
	default:
		return fmt.Errorf("transport: unknown kind %q (want %s, %s or %s)",
			c.Transport.Kind, TransportBLE, TransportBridge, TransportSimulator)
	}

	switch c.Oracle.Kind {
	case "":
	case OracleTable:
		if c.Oracle.Table == "" {
			return fmt.Errorf("oracle: table oracle needs a table path")
		}
	case OracleExec:
		if len(c.Oracle.Command) == 0 {
			return fmt.Errorf("oracle: exec oracle needs a command")
		}
	default:
		return fmt.Errorf("oracle: unknown kind %q", c.Oracle.Kind)
	}

	s := c.Session
	for name, d := range map[string]time.Duration{
		"scan_timeout":         s.ScanTimeout,
		"handshake_timeout":    s.HandshakeTimeout,
		"operation_timeout":    s.OperationTimeout,
		"start_epilogue_delay": s.StartEpilogueDelay,
		"dedup_ttl":            s.DedupTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("session: %s must be positive", name)
		}
	}
	if s.WriteAttempts < 1 {
		return fmt.Errorf("session: write_attempts must be at least 1, got %d", s.WriteAttempts)
	}
	if s.DedupThreshold < 2 {
		return fmt.Errorf("session: dedup_threshold must be at least 2, got %d", s.DedupThreshold)
	}

	if err := c.ReconnectPolicy().Validate(); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	return nil
}

// Save writes the configuration to path, or to GetConfigPath when path is
// empty. Performs an atomic write to prevent corruption on crash.
func (c *Config) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	// Create directory with user-only permissions (0700)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := c.Marshal()
	if err != nil {
		return err
	}

	header := []byte(`# waterctl configuration file
#
# device.name and device.address select the controller; either may match.
# Durations use Go syntax: "500ms", "15s", "7m".
#
# Location: ` + path + `

`)
	data = append(header, data...)

	// Write to temporary file first (atomic write)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}

	return nil
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
