package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/waterctl/waterctl/internal/config"
	"github.com/waterctl/waterctl/internal/fault"
	"github.com/waterctl/waterctl/internal/logging"
	"github.com/waterctl/waterctl/internal/protocol"
	"github.com/waterctl/waterctl/internal/session"
	"github.com/waterctl/waterctl/internal/simulator"
	"github.com/waterctl/waterctl/internal/transport"
	"github.com/waterctl/waterctl/internal/ui"
)

// Session command flags
var (
	plainOutput   bool
	holdFor       time.Duration
	deviceName    string
	deviceAddress string
	transportKind string
	bridgeAddress string
	verbose       bool
)

// endGrace is added to the operation timeout while waiting for B3 after
// an interrupt
const endGrace = 2 * time.Second

// errSessionFailed marks a failure the session output already explained
var errSessionFailed = errors.New("session failed")

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a water session",
	Long: `Scan for the configured controller, run the start handshake and keep
the session until you end it.

On a terminal an interactive screen shows the stage, the usage countdown
and any error with its diagnostics. Press space to end the session and
start a new one, d to disconnect, q to quit.

With --plain (or when output is not a terminal) progress is printed line by
line. The session ends after --hold, or on Ctrl+C.`,
	Example: `  # Start with the configured controller
  waterctl start

  # Override the controller for one run
  waterctl start --name Water36088 --address 6D:6C:00:02:73:63

  # Scripted: run the water for two minutes, then end the session
  waterctl start --plain --hold 2m

  # Use a remote gateway found via mDNS
  waterctl start --transport bridge`,
	RunE: runStart,
}

func init() {
	addSessionFlags(startCmd)
	rootCmd.AddCommand(startCmd)
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&plainOutput, "plain", false, "Line-by-line output instead of the interactive screen")
	cmd.Flags().DurationVar(&holdFor, "hold", 0, "End the session this long after the water starts (plain mode; 0 waits for Ctrl+C)")
	cmd.Flags().StringVar(&deviceName, "name", "", "Controller name (overrides config)")
	cmd.Flags().StringVar(&deviceAddress, "address", "", "Controller MAC address (overrides config)")
	cmd.Flags().StringVar(&transportKind, "transport", "", "Transport: ble, bridge or simulator (overrides config)")
	cmd.Flags().StringVar(&bridgeAddress, "bridge-url", "", "Gateway URL, e.g. ws://pi.local:8787/ws (implies --transport bridge)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print the session transcript under every error")
}

// applySessionFlags overlays command-line overrides on cfg
func applySessionFlags(cfg *config.Config) error {
	if deviceName != "" {
		cfg.Device.Name = deviceName
		if deviceAddress == "" {
			cfg.Device.Address = ""
		}
	}
	if deviceAddress != "" {
		cfg.Device.Address = deviceAddress
	}
	if bridgeAddress != "" {
		cfg.Transport.Kind = config.TransportBridge
		cfg.Transport.Bridge.URL = bridgeAddress
	}
	if transportKind != "" {
		cfg.Transport.Kind = transportKind
	}
	return cfg.Validate()
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applySessionFlags(cfg); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return runSession(cmd.Context(), cfg, simulator.Config{}, "waterctl start")
}

// runSession opens the radio and drives one session to its end
func runSession(ctx context.Context, cfg *config.Config, sim simulator.Config, command string) error {
	oracle, err := openOracle(cfg)
	if err != nil {
		return err
	}
	if sim.KeyAuth && sim.Oracle == nil && oracle == nil {
		oracle = simulator.LoopbackOracle
		sim.Oracle = simulator.LoopbackOracle
	}

	t, closeTransport, err := openTransport(ctx, cfg, sim)
	if err != nil {
		ui.NewPrinter(nil).PrintVerdict(err)
		return errSessionFailed
	}
	defer closeTransport()

	if plainOutput || !ui.IsTerminal() {
		return runPlain(ctx, cfg, t, oracle, command)
	}
	return runScreen(ctx, cfg, t, oracle, command)
}

// startSession runs sess on its own context so an interrupt can still end
// the water gracefully. The returned stop waits for Run to return.
func startSession(sess *session.Session) (stop func()) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sess.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn("Session loop exited", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func runScreen(ctx context.Context, cfg *config.Config, t transport.Transport, oracle protocol.KeyDerivationOracle, command string) error {
	events := ui.NewEvents()
	sess := session.New(cfg, t, oracle, session.WithObserver(events))
	stop := startSession(sess)
	defer stop()

	model := ui.NewModel(sess, events, ui.ScreenConfig{
		Command:   command,
		Params:    sessionParams(cfg),
		Countdown: cfg.UI.Countdown,
		LowTime:   cfg.UI.LowTime,
	})
	sess.Start()
	return ui.RunScreen(ctx, model)
}

func runPlain(ctx context.Context, cfg *config.Config, t transport.Transport, oracle protocol.KeyDerivationOracle, command string) error {
	runner := ui.NewRunner(ui.RunnerConfig{
		Command: command,
		Params:  sessionParams(cfg),
		Verbose: verbose,
	})
	sess := session.New(cfg, t, oracle, session.WithObserver(runner))
	stop := startSession(sess)
	defer stop()

	runner.PrintHeader()
	sess.Start()

	var (
		hold        <-chan time.Time
		endDeadline <-chan time.Time
		interrupted = ctx.Done()
	)
	for {
		select {
		case o := <-runner.Outcomes():
			switch o.Kind {
			case ui.OutcomeReady:
				if holdFor > 0 {
					runner.PrintPleaseWait("Water running", fmt.Sprintf("ending in %s", holdFor))
					hold = time.After(holdFor)
				} else {
					runner.PrintPleaseWait("Water running", "Ctrl+C to end")
				}
			case ui.OutcomeEnded, ui.OutcomeStopped:
				return nil
			case ui.OutcomeFailed:
				logging.Debug("Session settled", zap.Stringer("category", o.Verdict.Category))
				return fmt.Errorf("%w: %s", errSessionFailed, fault.GetShortErrorMessage(o.Verdict))
			}

		case <-hold:
			hold = nil
			sess.End()
			endDeadline = time.After(cfg.Session.OperationTimeout + endGrace)

		case <-interrupted:
			interrupted = nil
			if sess.State() == session.Ready {
				runner.PrintPleaseWait("Ending session", "")
				sess.End()
				endDeadline = time.After(cfg.Session.OperationTimeout + endGrace)
				continue
			}
			sess.Disconnect()
			return ctx.Err()

		case <-endDeadline:
			return fmt.Errorf("%w: controller did not confirm the end", errSessionFailed)
		}
	}
}
