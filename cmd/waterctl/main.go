// Waterctl starts and stops metered water sessions on BLE water
// controllers.
//
// It scans for the configured controller, runs the start handshake
// (including the key challenge newer firmware sends), shows the usage
// countdown while the water runs and ends the session on request. The
// radio can be the local adapter, a remote gateway reached over a
// websocket, or a built-in simulator.
//
// Usage:
//
//	waterctl [command] [flags]
//
// Running without arguments starts a session.
// See 'waterctl --help' for available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/waterctl/waterctl/internal/logging"
	"github.com/waterctl/waterctl/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "waterctl",
	Short: "BLE Water Controller Client",
	Long: `Start and stop water sessions on BLE water controllers.

waterctl finds the controller named in the configuration, performs the
start handshake and keeps the session until you end it. Controllers that
answer with a key challenge need a key oracle (see 'waterctl config show').

If no command is specified, a session starts immediately.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd, args)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: OS config dir/waterctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent when empty unless "+logging.LogLevelEnvVar+" is set")

	rootCmd.AddCommand(versionCmd)
}

var versionFormat string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionFormat == "json" {
			return printJSON(cmd.OutOrStdout(), version.Get())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "waterctl %s\n", version.Full())
		return nil
	},
}

func init() {
	versionCmd.Flags().StringVar(&versionFormat, "format", "text", "Output format (text, json)")
}
