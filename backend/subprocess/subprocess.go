// Package subprocess runs each step as a local command. Inputs, literals
// and outputs reach the command through STEPFLOW_* environment variables;
// the command writes each output to the path it is given.
package subprocess

import (
	"context"
	"errors"
	"fmt"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/backend"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/process"
)

// stderrTail bounds the diagnostic output kept on failures.
const stderrTail = 4096

// Backend executes steps with process.Runner.
type Backend struct {
	runner *process.Runner
	log    *logger.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New creates a subprocess backend.
func New(cfg process.Config, log *logger.Logger) *Backend {
	if log == nil {
		log = logger.NewNop()
	}
	return &Backend{runner: process.NewRunner(cfg), log: log.WithComponent("subprocess")}
}

// Run executes the step's command and collects the outputs it wrote.
func (b *Backend) Run(ctx context.Context, inv backend.Invocation) (map[string]artifact.Location, error) {
	res, err := backend.DecodeResources(inv.Resources)
	if err != nil {
		return nil, backend.Failed(ctx, inv.Step, err)
	}
	argv := append(append([]string(nil), res.Command...), res.Args...)
	if len(argv) == 0 {
		return nil, backend.Failed(ctx, inv.Step, errors.New("resources.command is required"))
	}
	if inv.Store == nil {
		return nil, backend.Failed(ctx, inv.Step, errors.New("no artifact store"))
	}
	env, err := backend.Environment(ctx, inv, res, backend.StorePath(inv.Store))
	if err != nil {
		return nil, backend.Failed(ctx, inv.Step, err)
	}

	runCtx := ctx
	if res.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, res.Timeout)
		defer cancel()
	}

	b.log.Debug("Starting step process", logger.Fields(
		logger.FieldRun, inv.RunID,
		logger.FieldStep, inv.Step,
		"binary", argv[0],
	))
	result, err := b.runner.Run(runCtx, process.Command{
		Binary: argv[0],
		Args:   argv[1:],
		Dir:    res.WorkDir,
		Env:    backend.EnvList(env),
	})
	if err != nil {
		return nil, execError(ctx, inv.Step, res, result, err)
	}
	b.log.Debug("Step process finished", logger.Fields(
		logger.FieldRun, inv.RunID,
		logger.FieldStep, inv.Step,
		logger.FieldDuration, result.Duration.Milliseconds(),
	))
	return backend.Collect(ctx, inv)
}

func execError(ctx context.Context, step string, res backend.Resources, result *process.Result, err error) error {
	ee := &backend.ExecutionError{Step: step, ExitCode: -1, Err: err}
	if result != nil {
		ee.Output = result.StderrTail(stderrTail)
		// A step timeout is a failure; only the run's own context cancels.
		ee.Cancelled = result.Cancelled && ctx.Err() != nil
	}
	var exitErr *process.ExitError
	if errors.As(err, &exitErr) {
		ee.ExitCode = exitErr.Code
		ee.Retryable = res.Retryable
		if ee.Output != "" {
			ee.Err = fmt.Errorf("%w: %s", err, ee.Output)
		}
	}
	return ee
}
