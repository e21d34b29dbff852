package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/waterctl/waterctl/internal/config"
	"github.com/waterctl/waterctl/internal/logging"
	"github.com/waterctl/waterctl/internal/simulator"
	"github.com/waterctl/waterctl/internal/transport"
	"github.com/waterctl/waterctl/internal/transport/ble"
	"github.com/waterctl/waterctl/internal/transport/bridge"
	"github.com/waterctl/waterctl/internal/ui"
	"github.com/waterctl/waterctl/internal/version"
)

// Gateway flags
var (
	serveHost      string
	servePort      int
	servePath      string
	serveAdvertise bool
	serveInstance  string
	serveSimulated bool
	browseTimeout  time.Duration
)

func init() {
	bridgeCmd.AddCommand(bridgeServeCmd)
	bridgeCmd.AddCommand(bridgeListCmd)
	rootCmd.AddCommand(bridgeCmd)
}

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Share or find a BLE gateway",
	Long: `A gateway runs on a machine with a BLE adapter near the controller and
exposes it over a websocket. Other machines use it with
'waterctl start --transport bridge'.`,
}

var bridgeServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the local BLE adapter as a gateway",
	Long: `Serve the local BLE adapter over a websocket and advertise it via mDNS
so clients can find it without a URL. One client is served at a time.`,
	Example: `  # Serve on the default port and advertise
  waterctl bridge serve

  # Serve a simulated controller for testing clients
  waterctl bridge serve --simulator --port 9000`,
	RunE: runBridgeServe,
}

func init() {
	bridgeServeCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (all interfaces when empty)")
	bridgeServeCmd.Flags().IntVar(&servePort, "port", bridge.DefaultPort, "Listen port")
	bridgeServeCmd.Flags().StringVar(&servePath, "path", bridge.DefaultPath, "Websocket endpoint path")
	bridgeServeCmd.Flags().BoolVar(&serveAdvertise, "advertise", true, "Advertise the gateway via mDNS")
	bridgeServeCmd.Flags().StringVar(&serveInstance, "instance", "", "mDNS instance name (host name when empty)")
	bridgeServeCmd.Flags().BoolVar(&serveSimulated, "simulator", false, "Serve a simulated controller instead of the adapter")
}

func runBridgeServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var t transport.Transport
	if serveSimulated {
		t = simulator.New(simulator.Config{Name: cfg.Device.Name, Address: cfg.Device.Address})
	} else {
		adapter := ble.New()
		defer func() { _ = adapter.Disconnect() }()
		t = adapter
	}

	instance := serveInstance
	if instance == "" {
		if host, err := os.Hostname(); err == nil {
			instance = host
		}
	}

	printer := ui.NewPrinter(cmd.OutOrStdout())
	params := []ui.Param{
		{Key: "Listen", Value: fmt.Sprintf("%s:%d%s", orAny(serveHost), servePort, servePath)},
		{Key: "Radio", Value: radioName(serveSimulated)},
	}
	if serveAdvertise {
		params = append(params, ui.Param{Key: "mDNS", Value: instance})
	}
	printer.PrintHeader("Bridge Gateway", "waterctl bridge serve", params...)
	printer.Println("Press Ctrl+C to stop.")

	srv := bridge.NewServer(&bridge.ServerConfig{
		Host:      serveHost,
		Port:      servePort,
		Path:      servePath,
		Advertise: serveAdvertise,
		Instance:  instance,
		Version:   version.Version,
	}, t)
	if err := srv.Start(cmd.Context()); err != nil {
		return fmt.Errorf("gateway stopped: %w", err)
	}
	logging.Info("Gateway stopped")
	return nil
}

var bridgeListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Find gateways on the local network",
	RunE:    runBridgeList,
}

func init() {
	bridgeListCmd.Flags().DurationVar(&browseTimeout, "timeout", 0, "Browse window (config value when 0)")
	bridgeListCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format (table, json)")
}

func runBridgeList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	scanner := newScanner(cfg.Transport.Bridge)
	if browseTimeout > 0 {
		scanner.Timeout = browseTimeout
	}

	printer := ui.NewPrinter(cmd.OutOrStdout())
	if outputFormat != "json" {
		printer.PrintHeader("Bridge Gateways", "waterctl bridge list",
			ui.Param{Key: "Service", Value: scanner.Service},
			ui.Param{Key: "Timeout", Value: scanner.Timeout.String()},
		)
	}

	logging.Debug("Browsing for gateways", zap.String("service", scanner.Service))
	gateways, err := scanner.Browse(cmd.Context())
	if err != nil {
		return fmt.Errorf("gateway discovery failed: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), gateways)
	}
	if len(gateways) == 0 {
		printer.PrintWarning("No gateways found",
			ui.Param{Key: "Hint", Value: "start one with 'waterctl bridge serve' on a machine near the controller"},
		)
		return nil
	}

	rows := make([][]string, 0, len(gateways))
	for _, gw := range gateways {
		rows = append(rows, []string{gw.Instance, gw.URL(), gw.Metadata["version"]})
	}
	printer.PrintTable([]string{"Instance", "URL", "Version"}, rows)
	return nil
}

// newScanner applies the configured browse settings
func newScanner(bc config.BridgeConfig) *bridge.Scanner {
	scanner := bridge.NewScanner()
	if bc.DiscoverTimeout > 0 {
		scanner.Timeout = bc.DiscoverTimeout
	}
	if bc.Service != "" {
		scanner.Service = bc.Service
	}
	if bc.Domain != "" {
		scanner.Domain = bc.Domain
	}
	return scanner
}

func radioName(simulated bool) string {
	if simulated {
		return "simulator"
	}
	return "local adapter"
}

func orAny(host string) string {
	if host == "" {
		return "*"
	}
	return host
}
