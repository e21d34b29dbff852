package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultDiagnosticsLimit bounds the transcript of a single session
const DefaultDiagnosticsLimit = 500

// Diagnostics is an in-memory transcript of one session: RXD/TXD lines,
// stage changes and decisions. It is shown to the user when a failure is
// worth reporting and cleared when the session is torn down.
type Diagnostics struct {
	mu    sync.Mutex
	lines []string
	limit int
}

// NewDiagnostics creates a transcript keeping at most limit lines
func NewDiagnostics(limit int) *Diagnostics {
	if limit <= 0 {
		limit = DefaultDiagnosticsLimit
	}
	return &Diagnostics{limit: limit}
}

// Record appends a line, dropping the oldest once the limit is reached
func (d *Diagnostics) Record(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.lines) >= d.limit {
		d.lines = append(d.lines[:0], d.lines[len(d.lines)-d.limit+1:]...)
	}
	d.lines = append(d.lines, line)
}

// Lines returns a copy of the transcript
func (d *Diagnostics) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.lines))
	copy(out, d.lines)
	return out
}

// Empty reports whether nothing has been recorded
func (d *Diagnostics) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lines) == 0
}

// Clear drops the transcript
func (d *Diagnostics) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = nil
}

// Core returns a zapcore.Core that records entries at or above level
func (d *Diagnostics) Core(level zapcore.LevelEnabler) zapcore.Core {
	cfg := zapcore.EncoderConfig{
		TimeKey:          "ts",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout("15:04:05.000"),
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
	return &diagnosticsCore{
		LevelEnabler: level,
		enc:          zapcore.NewConsoleEncoder(cfg),
		diag:         d,
	}
}

// NewSessionLogger returns a logger that writes to the global logger and
// records debug-level entries into d
func NewSessionLogger(d *Diagnostics) *zap.Logger {
	return zap.New(zapcore.NewTee(GetLogger().Core(), d.Core(zapcore.DebugLevel)))
}

type diagnosticsCore struct {
	zapcore.LevelEnabler
	enc  zapcore.Encoder
	diag *Diagnostics
}

func (c *diagnosticsCore) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return &diagnosticsCore{LevelEnabler: c.LevelEnabler, enc: enc, diag: c.diag}
}

func (c *diagnosticsCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *diagnosticsCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	c.diag.Record(strings.TrimRight(buf.String(), "\n"))
	buf.Free()
	return nil
}

func (c *diagnosticsCore) Sync() error {
	return nil
}
