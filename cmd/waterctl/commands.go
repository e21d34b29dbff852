package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/waterctl/waterctl/internal/fault"
	"github.com/waterctl/waterctl/internal/protocol"
	"github.com/waterctl/waterctl/internal/simulator"
	"github.com/waterctl/waterctl/internal/transport"
	"github.com/waterctl/waterctl/internal/ui"
)

// Scan and decode flags
var (
	scanTimeout  time.Duration
	scanAll      bool
	outputFormat string
)

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(decodeCmd)
}

// scanCmd lists controllers in range
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for water controllers",
	Long: `Scan for BLE devices and list the ones matching the configured
controller name or address. With --all every advertising device is listed,
which helps finding the name of a new controller.`,
	Example: `  # Look for the configured controller
  waterctl scan

  # List everything in range for 20 seconds
  waterctl scan --all --timeout 20s

  # Scan through a remote gateway
  waterctl scan --bridge-url ws://pi.local:8787/ws`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 10*time.Second, "Scan duration")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every device, not only the configured controller")
	scanCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format (table, json)")
	scanCmd.Flags().StringVar(&transportKind, "transport", "", "Transport: ble, bridge or simulator (overrides config)")
	scanCmd.Flags().StringVar(&bridgeAddress, "bridge-url", "", "Gateway URL (implies --transport bridge)")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applySessionFlags(cfg); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), scanTimeout)
	defer cancel()

	t, closeTransport, err := openTransport(ctx, cfg, simulator.Config{})
	if err != nil {
		return err
	}
	defer closeTransport()

	filter := cfg.Filter()
	if scanAll {
		filter = transport.Filter{}
	}

	printer := ui.NewPrinter(cmd.OutOrStdout())
	if outputFormat != "json" {
		printer.PrintHeader("Scan", "waterctl scan",
			ui.Param{Key: "Transport", Value: cfg.Transport.Kind},
			ui.Param{Key: "Timeout", Value: scanTimeout.String()},
		)
	}

	devices, err := collectDevices(ctx, t, filter)
	if err != nil {
		printer.PrintVerdict(err)
		return errSessionFailed
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), devices)
	}

	if len(devices) == 0 {
		printer.PrintVerdict(fault.ErrDeviceNotFound)
		return nil
	}

	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []string{d.Name, d.Address, fmt.Sprintf("%d dBm", d.RSSI)})
	}
	printer.PrintTable([]string{"Name", "Address", "RSSI"}, rows)
	printer.Newline()
	printer.Println(fmt.Sprintf("Found %d device(s). Use 'waterctl start --name <name>' to start a session.", len(devices)))
	return nil
}

// collectDevices scans until ctx is done and returns the devices seen,
// strongest signal first
func collectDevices(ctx context.Context, t transport.Transport, filter transport.Filter) ([]transport.Device, error) {
	var (
		mu   sync.Mutex
		seen = make(map[string]transport.Device)
	)
	err := t.Scan(ctx, filter, func(batch []transport.Device) {
		mu.Lock()
		defer mu.Unlock()
		for _, d := range batch {
			seen[strings.ToUpper(d.Address)] = d
		}
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	devices := make([]transport.Device, 0, len(seen))
	for _, d := range seen {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].RSSI != devices[j].RSSI {
			return devices[i].RSSI > devices[j].RSSI
		}
		return devices[i].Address < devices[j].Address
	})
	return devices, nil
}

// decodeCmd explains captured frames
var decodeCmd = &cobra.Command{
	Use:   "decode [hex-frame...]",
	Short: "Decode captured controller frames",
	Long: `Normalize captured RXD notifications the way the session does and show
what each one means. Frames are hex strings (spaces and colons are
ignored); without arguments they are read from stdin, one per line.

Lines starting with "RXD:" or "TXD:" are accepted as-is, so a diagnostics
transcript can be pasted directly.`,
	Example: `  # A truncated handshake reply
  waterctl decode 09B2010000

  # A key challenge
  waterctl decode "FD FD 09 AE 00 7A 12 34 73 63"

  # Decode a saved transcript
  waterctl decode < transcript.txt`,
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format (table, json)")
}

// Decoded describes one analysed frame
type Decoded struct {
	Input     string `json:"input"`
	Direction string `json:"direction,omitempty"`
	Outcome   string `json:"outcome"`
	Frame     string `json:"frame,omitempty"`
	Type      string `json:"type,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
}

func runDecode(cmd *cobra.Command, args []string) error {
	inputs := args
	if len(inputs) == 0 {
		lines, err := readLines(cmd.InOrStdin())
		if err != nil {
			return err
		}
		inputs = lines
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no frames to decode")
	}

	results := make([]Decoded, 0, len(inputs))
	for _, in := range inputs {
		results = append(results, decodeFrame(in))
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), results)
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		detail := r.Detail
		if r.Error != "" {
			detail = r.Error
		}
		rows = append(rows, []string{r.Direction, r.Input, r.Outcome, r.Type, detail})
	}
	ui.NewPrinter(cmd.OutOrStdout()).PrintTable([]string{"Dir", "Input", "Outcome", "Type", "Detail"}, rows)
	return nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read frames: %w", err)
	}
	return lines, nil
}

// decodeFrame runs one input through Normalize and the field parsers
func decodeFrame(input string) Decoded {
	d := Decoded{Input: input}

	text := input
	for _, dir := range []string{"RXD", "TXD"} {
		if rest, ok := strings.CutPrefix(text, dir+":"); ok {
			d.Direction = dir
			text = strings.TrimSpace(rest)
			break
		}
	}
	d.Input = text

	raw, err := protocol.ParseHex(text)
	if err != nil {
		d.Outcome = protocol.Invalid.String()
		d.Error = err.Error()
		return d
	}

	if d.Direction == "TXD" {
		d.Outcome = "outbound"
		d.Frame = protocol.HexString(raw)
		d.Detail = describeOutbound(raw)
		return d
	}

	outcome, pkt, err := protocol.Normalize(raw)
	d.Outcome = outcome.String()
	if err != nil {
		d.Error = err.Error()
		return d
	}
	if pkt == nil {
		return d
	}

	d.Frame = protocol.HexString(pkt.Payload)
	d.Type = protocol.GetPacketTypeName(pkt.Type)
	d.Detail = describeInbound(pkt)
	return d
}

func describeInbound(pkt *protocol.Packet) string {
	var parts []string
	if !protocol.IsKnownType(pkt.Type) {
		parts = append(parts, "not a documented type")
	}

	switch pkt.Type {
	case protocol.TypeKeyChallenge:
		req, err := protocol.ParseUnlockRequest(pkt)
		if err != nil {
			return err.Error()
		}
		block := req.OracleBlock()
		parts = append(parts,
			fmt.Sprintf("nonce=%04X next=%04X", req.Nonce, protocol.NextNonce(req.Nonce)),
			fmt.Sprintf("echo=%02X mac=%s", req.Echo, protocol.HexString(req.MAC[:])),
			"oracle input="+protocol.HexString(block[:]),
		)
	case protocol.TypeKeyResult:
		status, err := protocol.KeyResultStatus(pkt)
		if err != nil {
			return err.Error()
		}
		verdict := "accepted"
		if protocol.IsBadKeyStatus(status) {
			verdict = "rejected"
		} else if status != protocol.KeyStatusAccepted {
			verdict = "unexpected"
		}
		parts = append(parts, fmt.Sprintf("status=%02X (%s)", status, verdict))
	}

	parts = append(parts, fmt.Sprintf("%d bytes", len(pkt.Payload)))
	return strings.Join(parts, ", ")
}

// describeOutbound names the fixed frames the session writes
func describeOutbound(raw []byte) string {
	fixed := []struct {
		name  string
		frame []byte
	}{
		{"start prologue", protocol.StartPrologue()},
		{"end prologue", protocol.EndPrologue()},
		{"end epilogue", protocol.EndEpilogue()},
		{"user info ack", protocol.BAAck()},
		{"offline session fix", protocol.OfflinebombFix()},
	}
	for _, f := range fixed {
		if string(raw) == string(f.frame) {
			return f.name
		}
	}

	if len(raw) >= 4 && raw[0] == 0xFE && raw[1] == 0xFE && raw[2] == protocol.FrameMarker {
		switch raw[3] {
		case protocol.TypeKeyResult:
			if len(raw) == 20 && protocol.ChecksumB(raw[5:]) == raw[4] {
				return "unlock response, checksum ok"
			}
			return "unlock response, bad checksum or length"
		case protocol.TypeStarted:
			return "start epilogue"
		}
	}
	return "unrecognised outbound frame"
}
