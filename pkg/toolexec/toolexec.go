// Package toolexec runs external security tools as technique
// invocations. It is the only place the scanner shells out.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/vulnpilot/vulnpilot/pkg/techniques"
)

// maxOutput caps captured tool output so a chatty scanner cannot blow
// up prompts or the audit trail.
const maxOutput = 64 * 1024

// Runner executes technique invocations with os/exec.
type Runner struct {
	logger *slog.Logger
}

// New creates a runner.
func New(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Invoke runs the technique's tool against the invocation target. A
// non-zero exit is not an error; tools signal "nothing found" that way.
func (r *Runner) Invoke(ctx context.Context, inv techniques.Invocation) (*techniques.Output, error) {
	if inv.Technique.Tool == "" {
		return nil, fmt.Errorf("toolexec: technique %s has no tool", inv.Technique.Name)
	}
	if _, err := exec.LookPath(inv.Technique.Tool); err != nil {
		return nil, fmt.Errorf("toolexec: tool %s not installed: %w", inv.Technique.Tool, err)
	}

	// A cooperative stop lets a tool that already launched run to
	// completion; only the parent's deadline still bounds it.
	runCtx := context.WithoutCancel(ctx)
	if dl, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, dl)
		defer cancel()
	}

	args := append([]string{}, inv.Args...)
	args = append(args, inv.Target)
	cmd := exec.CommandContext(runCtx, inv.Technique.Tool, args...)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("toolexec: run %s: %w", inv.Technique.Tool, err)
		}
		exitCode = exitErr.ExitCode()
	}

	out := buf.Bytes()
	if len(out) > maxOutput {
		out = out[:maxOutput]
	}
	r.logger.Debug("tool finished",
		"tool", inv.Technique.Tool, "technique", inv.Technique.Name,
		"exit", exitCode, "duration", elapsed, "output_bytes", len(out))

	return &techniques.Output{
		Stdout:   string(out),
		ExitCode: exitCode,
		Duration: elapsed,
	}, nil
}
