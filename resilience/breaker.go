package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the position of a Breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// BreakerPolicy is the configuration-file form of a Breaker.
type BreakerPolicy struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	MaxFailures int           `yaml:"max_failures" mapstructure:"max_failures"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// ApplyDefaults fills unset fields.
func (p *BreakerPolicy) ApplyDefaults() {
	if p.MaxFailures <= 0 {
		p.MaxFailures = 5
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
}

// Validate checks the policy.
func (p *BreakerPolicy) Validate() error {
	if p.Enabled && p.MaxFailures < 1 {
		return fmt.Errorf("breaker.max_failures must be positive (got: %d)", p.MaxFailures)
	}
	return nil
}

// NewBreaker builds a breaker from the policy, or nil when disabled.
// onChange may be nil.
func (p BreakerPolicy) NewBreaker(name string, onChange func(name string, from, to State)) *Breaker {
	if !p.Enabled {
		return nil
	}
	p.ApplyDefaults()
	return &Breaker{
		name:     name,
		limit:    p.MaxFailures,
		cooldown: p.Timeout,
		onChange: onChange,
		now:      time.Now,
	}
}

// Breaker fails fast after a run of consecutive failures. Once the
// cooldown has passed it admits a single probe call; the probe's outcome
// closes or re-opens it. Calls that fail with context.Canceled are not
// counted either way, since the caller gave up rather than the dependency.
type Breaker struct {
	name     string
	limit    int
	cooldown time.Duration
	onChange func(name string, from, to State)
	now      func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	b.settle(err)
	return err
}

// State reports the current state, moving open to half-open when the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick()
	return b.state
}

// Failures is the length of the current failure run.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.move(StateClosed)
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick()
	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err == nil:
		b.failures = 0
		if b.state == StateHalfOpen {
			b.move(StateClosed)
		}
	case errors.Is(err, context.Canceled):
		b.probing = false
	default:
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.limit {
			b.openedAt = b.now()
			b.move(StateOpen)
		}
	}
}

func (b *Breaker) tick() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.move(StateHalfOpen)
	}
}

// move is called with mu held, and so is onChange.
func (b *Breaker) move(to State) {
	from := b.state
	b.probing = false
	if to == StateClosed {
		b.failures = 0
	}
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
