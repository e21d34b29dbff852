package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waterctl/waterctl/internal/config"
	"github.com/waterctl/waterctl/internal/simulator"
)

// Simulated firmware flags
var simFlags struct {
	keyAuth        bool
	keyStatus      uint8
	refuse         bool
	silent         bool
	ignoreEnd      bool
	truncate       int
	duplicates     int
	leakAT         bool
	askUserInfo    bool
	offlineSession bool
	telemetry      bool
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a session against a simulated controller",
	Long: `Run the full session against a built-in controller that follows the
same protocol as the hardware. The flags reproduce firmware quirks and
failures, which is useful to see how each one is reported.

With --key-auth and no key oracle configured, both ends use a stand-in key
derivation so the handshake can complete.`,
	Example: `  # A plain session that ends after ten seconds
  waterctl simulate --plain --hold 10s

  # Newer firmware with a key challenge and a truncating radio
  waterctl simulate --key-auth --truncate 2 --duplicates 3

  # See how a refused start is reported
  waterctl simulate --refuse`,
	RunE: runSimulate,
}

func init() {
	addSessionFlags(simulateCmd)

	f := simulateCmd.Flags()
	f.BoolVar(&simFlags.keyAuth, "key-auth", false, "Answer the handshake with a key challenge")
	f.Uint8Var(&simFlags.keyStatus, "key-status", 0, "Force the key result status byte (0 checks the key)")
	f.BoolVar(&simFlags.refuse, "refuse", false, "Refuse the start with C8")
	f.BoolVar(&simFlags.silent, "silent", false, "Never answer the handshake")
	f.BoolVar(&simFlags.ignoreEnd, "ignore-end", false, "Never confirm the end")
	f.IntVar(&simFlags.truncate, "truncate", 0, "Strip 1 or 2 leading bytes from every notification")
	f.IntVar(&simFlags.duplicates, "duplicates", 0, "Repeat every notification this many extra times")
	f.BoolVar(&simFlags.leakAT, "leak-at", false, "Leak modem chatter before the first notification")
	f.BoolVar(&simFlags.askUserInfo, "ask-user-info", false, "Send a user info request after the start")
	f.BoolVar(&simFlags.offlineSession, "offline-session", false, "Report a pending offline session")
	f.BoolVar(&simFlags.telemetry, "telemetry", false, "Send a telemetry frame after the start")

	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simFlags.truncate < 0 || simFlags.truncate > 2 {
		return fmt.Errorf("--truncate must be 0, 1 or 2, got %d", simFlags.truncate)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	transportKind = config.TransportSimulator
	bridgeAddress = ""
	if err := applySessionFlags(cfg); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return runSession(cmd.Context(), cfg, simulatorConfig(), "waterctl simulate")
}

// simulatorConfig maps the command flags onto the simulated firmware
func simulatorConfig() simulator.Config {
	return simulator.Config{
		KeyAuth:        simFlags.keyAuth,
		KeyStatus:      simFlags.keyStatus,
		Refuse:         simFlags.refuse,
		Silent:         simFlags.silent,
		IgnoreEnd:      simFlags.ignoreEnd,
		TruncateLead:   simFlags.truncate,
		Duplicates:     simFlags.duplicates,
		LeakAT:         simFlags.leakAT,
		AskUserInfo:    simFlags.askUserInfo,
		OfflineSession: simFlags.offlineSession,
		Telemetry:      simFlags.telemetry,
	}
}
