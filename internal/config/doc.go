// Package config provides configuration management for waterctl.
//
// The configuration is a YAML file binding the tool to one controller and
// holding the protocol timings, the reconnect policy and the key oracle
// setup. Missing keys keep their defaults, so a minimal file only names the
// device.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/waterctl/config.yaml or $HOME/.config/waterctl/config.yaml
//   - macOS: $HOME/.config/waterctl/config.yaml
//   - Windows: %LOCALAPPDATA%\waterctl\config.yaml
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	cfg.Device.Name = "Water12345"
//	if err := cfg.Save(""); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// Save is serialized by a mutex and writes atomically through a temporary file.
package config
