package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// DefaultCapture bounds how much of each output stream a Result keeps.
const DefaultCapture = 1 << 20

// Command is one subprocess invocation.
type Command struct {
	Binary string
	Args   []string
	Dir    string
	// Env entries (KEY=value) are added to the parent environment. An empty
	// Env inherits the parent environment unchanged.
	Env   []string
	Stdin io.Reader
	// Stdout and Stderr see the full streams as they are written; the
	// Result keeps only the last Capture bytes of each.
	Stdout io.Writer
	Stderr io.Writer
	// GracePeriod separates SIGTERM from SIGKILL on cancellation. Zero
	// means five seconds.
	GracePeriod time.Duration
	// Capture is the per-stream retention limit. Zero means DefaultCapture.
	Capture int
}

// Result describes a finished process.
type Result struct {
	Stdout []byte
	Stderr []byte
	// ExitCode is -1 when the process was signalled or never started.
	ExitCode  int
	Cancelled bool
	Duration  time.Duration
	// Truncated reports that a stream exceeded the capture limit.
	Truncated bool
}

// StderrTail returns at most n trailing bytes of stderr.
func (r *Result) StderrTail(n int) string {
	if r == nil {
		return ""
	}
	if len(r.Stderr) > n {
		return string(r.Stderr[len(r.Stderr)-n:])
	}
	return string(r.Stderr)
}

// ExitError reports a process that ran and exited non-zero.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return fmt.Sprintf("process: exit code %d: %v", e.Code, e.Err) }
func (e *ExitError) Unwrap() error { return e.Err }

// Run starts cmd in its own process group and waits for it. When ctx ends
// the group gets SIGTERM, then SIGKILL once GracePeriod has passed.
func Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, errors.New("process: binary is required")
	}
	if cmd.GracePeriod <= 0 {
		cmd.GracePeriod = 5 * time.Second
	}
	if cmd.Capture <= 0 {
		cmd.Capture = DefaultCapture
	}

	stdout := &tail{limit: cmd.Capture}
	stderr := &tail{limit: cmd.Capture}

	c := exec.CommandContext(ctx, cmd.Binary, cmd.Args...) //nolint:gosec // step commands come from the pipeline definition
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.Stdin = cmd.Stdin
	c.Stdout = fanout(stdout, cmd.Stdout)
	c.Stderr = fanout(stderr, cmd.Stderr)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGTERM)
	}
	c.WaitDelay = cmd.GracePeriod

	began := time.Now()
	err := c.Run()
	res := &Result{
		Stdout:    stdout.bytes(),
		Stderr:    stderr.bytes(),
		ExitCode:  -1,
		Duration:  time.Since(began),
		Truncated: stdout.dropped || stderr.dropped,
	}
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}

	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		res.Cancelled = true
		return res, fmt.Errorf("process: killed by context: %w", ctx.Err())
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return res, &ExitError{Code: res.ExitCode, Err: err}
	}
	return res, fmt.Errorf("process: %w", err)
}

func fanout(t *tail, w io.Writer) io.Writer {
	if w == nil {
		return t
	}
	return io.MultiWriter(t, w)
}

// tail keeps the last limit bytes written to it.
type tail struct {
	limit   int
	buf     []byte
	dropped bool
}

func (t *tail) Write(p []byte) (int, error) {
	n := len(p)
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.dropped = true
	}
	return n, nil
}

func (t *tail) bytes() []byte { return t.buf }
