package keyoracle

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/waterctl/waterctl/internal/logging"
	"github.com/waterctl/waterctl/internal/protocol"
	"go.uber.org/zap"
)

// DefaultExecTimeout bounds one helper run
const DefaultExecTimeout = 5 * time.Second

// Exec runs a helper program per derivation
type Exec struct {
	Command []string
	Timeout time.Duration
}

// NewExec creates an exec oracle for command and its arguments
func NewExec(command []string, timeout time.Duration) (*Exec, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("exec oracle: empty command")
	}
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	return &Exec{Command: command, Timeout: timeout}, nil
}

// DeriveKey implements protocol.KeyDerivationOracle
func (e *Exec) DeriveKey(ctx context.Context, block [4]byte) ([4]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	input := protocol.HexString(block[:])
	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	cmd.Stdin = strings.NewReader(input + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Debug("Running key helper", zap.Strings("command", e.Command), zap.String("input", input))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return [4]byte{}, fmt.Errorf("key helper timed out after %s: %w", e.Timeout, ctx.Err())
		}
		return [4]byte{}, fmt.Errorf("key helper failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	key, err := parseBlock(strings.TrimSpace(stdout.String()))
	if err != nil {
		return [4]byte{}, fmt.Errorf("key helper output %q: %w", strings.TrimSpace(stdout.String()), err)
	}
	return key, nil
}
