// Package cargo invokes the Rust toolchain and classifies its diagnostics.
package cargo

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"rustport/internal/config"
)

// Mode selects the toolchain invocation
type Mode string

const (
	// ModeCheck runs the fast syntax/type validation
	ModeCheck Mode = "check"
	// ModeTest runs the full test suite
	ModeTest Mode = "test"
)

// Outcome is the result of one toolchain invocation. It is ephemeral: it
// drives retry decisions and is journaled, but later stages never depend on it.
type Outcome struct {
	OK          bool       `json:"ok"`
	Mode        Mode       `json:"mode"`
	Categories  []Category `json:"categories,omitempty"`
	Diagnostics string     `json:"diagnostics,omitempty"`
	TimedOut    bool       `json:"timedOut,omitempty"`
	Duration    string     `json:"duration,omitempty"`
}

// Runner executes cargo in a crate directory with a bounded timeout. A
// timeout is treated as an ordinary build failure and follows the same
// classified-retry path.
type Runner interface {
	Run(ctx context.Context, crateDir string, mode Mode) Outcome
}

// ExecRunner shells out to the real cargo binary
type ExecRunner struct {
	bin     string
	timeout time.Duration
}

// NewRunner builds a runner from toolchain configuration
func NewRunner(cfg config.ToolchainConfig) *ExecRunner {
	bin := cfg.CargoBin
	if bin == "" {
		bin = "cargo"
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ExecRunner{bin: bin, timeout: timeout}
}

// Run implements Runner
func (r *ExecRunner) Run(ctx context.Context, crateDir string, mode Mode) Outcome {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, r.bin, string(mode))
	cmd.Dir = crateDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	outcome := Outcome{
		Mode:        mode,
		Diagnostics: out.String(),
		Duration:    time.Since(start).Round(time.Millisecond).String(),
	}
	if ctx.Err() == context.DeadlineExceeded {
		outcome.TimedOut = true
		outcome.Categories = []Category{CategoryTimeout}
		return outcome
	}
	if err != nil {
		outcome.Categories = Classify(outcome.Diagnostics)
		return outcome
	}
	outcome.OK = true
	return outcome
}
