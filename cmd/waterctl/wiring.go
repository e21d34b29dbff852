package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/waterctl/waterctl/internal/config"
	"github.com/waterctl/waterctl/internal/keyoracle"
	"github.com/waterctl/waterctl/internal/logging"
	"github.com/waterctl/waterctl/internal/protocol"
	"github.com/waterctl/waterctl/internal/simulator"
	"github.com/waterctl/waterctl/internal/transport"
	"github.com/waterctl/waterctl/internal/transport/ble"
	"github.com/waterctl/waterctl/internal/transport/bridge"
	"github.com/waterctl/waterctl/internal/ui"
)

// loadConfig reads --config or the default file
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// openOracle builds the configured key oracle; nil when key
// authentication is not configured
func openOracle(cfg *config.Config) (protocol.KeyDerivationOracle, error) {
	switch cfg.Oracle.Kind {
	case config.OracleTable:
		t, err := keyoracle.LoadTable(cfg.Oracle.Table)
		if err != nil {
			return nil, err
		}
		logging.Debug("Loaded key table", zap.String("path", cfg.Oracle.Table), zap.Int("vectors", t.Len()))
		return t, nil
	case config.OracleExec:
		e, err := keyoracle.NewExec(cfg.Oracle.Command, cfg.Oracle.Timeout)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, nil
	}
}

// openTransport connects the configured radio. The returned closer
// releases it.
func openTransport(ctx context.Context, cfg *config.Config, sim simulator.Config) (transport.Transport, func(), error) {
	switch cfg.Transport.Kind {
	case config.TransportBLE:
		t := ble.New()
		return t, func() { _ = t.Disconnect() }, nil

	case config.TransportBridge:
		url, err := bridgeURL(ctx, cfg.Transport.Bridge)
		if err != nil {
			return nil, nil, err
		}
		client, err := bridge.Dial(ctx, url, cfg.Transport.Bridge.RequestTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to reach gateway at %s: %w", url, err)
		}
		logging.Info("Connected to gateway", zap.String("url", url))
		return client, func() { _ = client.Close() }, nil

	case config.TransportSimulator:
		if sim.Name == "" {
			sim.Name = cfg.Device.Name
		}
		if sim.Address == "" {
			sim.Address = cfg.Device.Address
		}
		return simulator.New(sim), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
	}
}

// bridgeURL returns the configured gateway URL or browses for one
func bridgeURL(ctx context.Context, bc config.BridgeConfig) (string, error) {
	if bc.URL != "" {
		return bc.URL, nil
	}

	scanner := newScanner(bc)
	logging.Info("Browsing for gateway", zap.String("service", scanner.Service), zap.Duration("timeout", scanner.Timeout))
	gw, err := scanner.FindFirst(ctx)
	if err != nil {
		return "", fmt.Errorf("gateway discovery failed: %w", err)
	}
	return gw.URL(), nil
}

// sessionParams are the header lines for a session screen
func sessionParams(cfg *config.Config) []ui.Param {
	params := []ui.Param{{Key: "Device", Value: cfg.Device.Name}}
	if cfg.Device.Address != "" {
		params = append(params, ui.Param{Key: "Address", Value: cfg.Device.Address})
	}
	params = append(params, ui.Param{Key: "Transport", Value: cfg.Transport.Kind})
	if cfg.Oracle.Kind != "" {
		params = append(params, ui.Param{Key: "Key oracle", Value: cfg.Oracle.Kind})
	}
	return params
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return nil
}
