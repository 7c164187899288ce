// Package runner executes external binaries synchronously with a hard timeout
// and a cap on captured output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single command.
	DefaultTimeout = 60 * time.Second
	// DefaultMaxOutput caps captured stdout.
	DefaultMaxOutput int64 = 32 << 20
	// stderr is only kept for error messages.
	maxStderr = 64 << 10
)

// ErrOutputTooLarge is returned when a command writes more than the
// configured maximum to stdout.
var ErrOutputTooLarge = errors.New("command output exceeds limit")

// ErrTimeout is returned when a command does not finish within the timeout.
var ErrTimeout = errors.New("command timed out")

// Command describes one invocation.
type Command struct {
	Name string
	Args []string
	Env  []string
	Dir  string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the captured output of a successful command.
type Result struct {
	Stdout   []byte
	Stderr   string
	Duration time.Duration
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, msg)
}

// Runner runs a command and captures its stdout.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Timeout   time.Duration
	MaxOutput int64
}

// New creates an ExecRunner. Zero values fall back to the defaults.
func New(timeout time.Duration, maxOutput int64) *ExecRunner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	return &ExecRunner{Timeout: timeout, MaxOutput: maxOutput}
}

// Run executes the command. A timeout, a non-zero exit and oversize output
// are all returned as errors; partial output is discarded.
func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("command is required")
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}

	stdout := &limitedBuffer{max: r.maxOutput(), cancel: cancel}
	stderr := &limitedBuffer{max: maxStderr}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if stdout.exceeded {
		return nil, fmt.Errorf("%s: %w (%d bytes)", c, ErrOutputTooLarge, stdout.max)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s: %w after %s", c, ErrTimeout, timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExitError{
				Command:  c.String(),
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			}
		}
		return nil, fmt.Errorf("failed to execute %s: %w", c, err)
	}

	return &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.String(),
		Duration: duration,
	}, nil
}

func (r *ExecRunner) maxOutput() int64 {
	if r.MaxOutput <= 0 {
		return DefaultMaxOutput
	}
	return r.MaxOutput
}

// limitedBuffer stops accepting writes once max bytes were seen. When cancel
// is set the command is killed on overflow. The buffer is a named field so
// io.Copy cannot bypass Write through ReadFrom.
type limitedBuffer struct {
	buf      bytes.Buffer
	max      int64
	exceeded bool
	cancel   context.CancelFunc
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.exceeded {
		return len(p), nil
	}
	if int64(b.buf.Len()+len(p)) > b.max {
		b.exceeded = true
		if b.cancel != nil {
			b.cancel()
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) Bytes() []byte { return b.buf.Bytes() }

func (b *limitedBuffer) String() string { return b.buf.String() }

var _ Runner = (*ExecRunner)(nil)
