// Package inproc runs steps as registered Go functions inside the daemon.
// Functions exchange artifact bytes through the artifact store.
package inproc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/go-viper/mapstructure/v2"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/backend"
	"github.com/kbukum/stepflow/logger"
)

// Func is the code of one step.
type Func func(ctx context.Context, call *Call) error

// Backend dispatches invocations to registered functions. Handlers are
// selected by the handler resource, falling back to the step name.
type Backend struct {
	mu    sync.RWMutex
	funcs map[string]Func
	log   *logger.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New creates an empty in-process backend.
func New(log *logger.Logger) *Backend {
	if log == nil {
		log = logger.NewNop()
	}
	return &Backend{funcs: make(map[string]Func), log: log.WithComponent("inproc")}
}

// Register adds fn under name.
func (b *Backend) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("inproc: name and function are required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.funcs[name]; ok {
		return fmt.Errorf("inproc: handler %q already registered", name)
	}
	b.funcs[name] = fn
	return nil
}

// MustRegister is Register that panics on error.
func (b *Backend) MustRegister(name string, fn Func) {
	if err := b.Register(name, fn); err != nil {
		panic(err)
	}
}

// Handlers returns the registered names in sorted order.
func (b *Backend) Handlers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.funcs))
	for name := range b.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the handler for inv and returns the outputs it wrote.
func (b *Backend) Run(ctx context.Context, inv backend.Invocation) (out map[string]artifact.Location, err error) {
	res, err := backend.DecodeResources(inv.Resources)
	if err != nil {
		return nil, backend.Failed(ctx, inv.Step, err)
	}
	name := res.Handler
	if name == "" {
		name = inv.Step
	}
	b.mu.RLock()
	fn, ok := b.funcs[name]
	b.mu.RUnlock()
	if !ok {
		return nil, backend.Failed(ctx, inv.Step, fmt.Errorf("no handler registered as %q", name))
	}
	if inv.Store == nil {
		return nil, backend.Failed(ctx, inv.Step, fmt.Errorf("no artifact store"))
	}

	parent := ctx
	if res.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, res.Timeout)
		defer cancel()
	}

	call := &Call{inv: inv, written: make(map[string]artifact.Location)}
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Step handler panicked", logger.Fields(
				logger.FieldRun, inv.RunID,
				logger.FieldStep, inv.Step,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			))
			out, err = nil, backend.Failed(parent, inv.Step, fmt.Errorf("handler panic: %v", r))
		}
	}()

	if err := fn(ctx, call); err != nil {
		return nil, backend.Failed(parent, inv.Step, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, backend.Failed(parent, inv.Step, err)
	}
	return call.Written(), nil
}

// Call gives a handler access to its step's inputs and outputs.
type Call struct {
	inv     backend.Invocation
	mu      sync.Mutex
	written map[string]artifact.Location
}

// RunID returns the id of the run executing the step.
func (c *Call) RunID() string { return c.inv.RunID }

// Step returns the step name.
func (c *Call) Step() string { return c.inv.Step }

// Literal returns the literal input name.
func (c *Call) Literal(name string) (any, bool) {
	v, ok := c.inv.Literals[name]
	return v, ok
}

// DecodeLiteral decodes the literal input name into out, which must be a
// pointer. Maps decode into structs by their mapstructure tags.
func (c *Call) DecodeLiteral(name string, out any) error {
	v, ok := c.inv.Literals[name]
	if !ok {
		return fmt.Errorf("inproc: step %q has no literal %q", c.inv.Step, name)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(v)
}

// OpenInput opens the upstream artifact bound to input name.
func (c *Call) OpenInput(ctx context.Context, name string) (io.ReadCloser, error) {
	ref, ok := c.inv.Inputs[name]
	if !ok {
		return nil, fmt.Errorf("inproc: step %q has no input %q", c.inv.Step, name)
	}
	return c.inv.Store.Read(ctx, ref.Location)
}

// Input reads the whole upstream artifact bound to input name.
func (c *Call) Input(ctx context.Context, name string) ([]byte, error) {
	rc, err := c.OpenInput(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// WriteOutput stores r as the declared output name.
func (c *Call) WriteOutput(ctx context.Context, name string, r io.Reader) error {
	loc, ok := c.inv.Outputs[name]
	if !ok {
		return fmt.Errorf("inproc: step %q declares no output %q", c.inv.Step, name)
	}
	if err := c.inv.Store.Write(ctx, loc, r); err != nil {
		return err
	}
	c.mu.Lock()
	c.written[name] = loc
	c.mu.Unlock()
	return nil
}

// Output stores data as the declared output name.
func (c *Call) Output(ctx context.Context, name string, data []byte) error {
	return c.WriteOutput(ctx, name, bytes.NewReader(data))
}

// Written returns the outputs stored so far.
func (c *Call) Written() map[string]artifact.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]artifact.Location, len(c.written))
	for k, v := range c.written {
		out[k] = v
	}
	return out
}
