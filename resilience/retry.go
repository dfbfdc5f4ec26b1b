package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// BackoffFactor is the multiplier for exponential backoff.
	BackoffFactor float64
	// Jitter adds randomness to backoff (0.0 to 1.0).
	Jitter float64
	// RetryIf determines if an error should be retried.
	RetryIf func(error) bool
	// OnRetry is called before each retry.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// Policy is the configuration-file form of RetryConfig.
type Policy struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor" mapstructure:"backoff_factor"`
	Jitter         float64       `yaml:"jitter" mapstructure:"jitter"`
}

// ApplyDefaults fills unset fields. A zero MaxAttempts means a single attempt.
func (p *Policy) ApplyDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 2.0
	}
}

// Validate checks the policy bounds.
func (p *Policy) Validate() error {
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be within [0,1] (got: %v)", p.Jitter)
	}
	if p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("retry.max_backoff (%s) must not be below retry.initial_backoff (%s)", p.MaxBackoff, p.InitialBackoff)
	}
	return nil
}

// RetryConfig converts the policy into a RetryConfig that retries only
// errors reporting themselves as retryable.
func (p Policy) RetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    p.MaxAttempts,
		InitialBackoff: p.InitialBackoff,
		MaxBackoff:     p.MaxBackoff,
		BackoffFactor:  p.BackoffFactor,
		Jitter:         p.Jitter,
		RetryIf:        RetryableOnly,
	}
}

// DefaultRetryIf retries everything except a cancelled or expired context.
func DefaultRetryIf(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// RetryableOnly retries errors that report IsRetryable() true.
func RetryableOnly(err error) bool {
	if !DefaultRetryIf(err) {
		return false
	}
	var r interface{ IsRetryable() bool }
	return errors.As(err, &r) && r.IsRetryable()
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2
	}
	if c.RetryIf == nil {
		c.RetryIf = DefaultRetryIf
	}
	return c
}

// delay is the wait after the given failed attempt: InitialBackoff grown by
// BackoffFactor per attempt, spread by Jitter, capped at MaxBackoff.
func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.InitialBackoff) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if c.Jitter > 0 {
		d *= 1 + c.Jitter*(2*rand.Float64()-1)
	}
	d = math.Min(d, float64(c.MaxBackoff))
	if d <= 0 {
		return c.InitialBackoff
	}
	return time.Duration(d)
}

// Retry calls fn until it succeeds, RetryIf rejects its error, attempts run
// out or ctx ends. The last error from fn is returned as is.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	cfg = cfg.normalized()
	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if attempt >= cfg.MaxAttempts || !cfg.RetryIf(err) {
			return zero, err
		}

		wait := cfg.delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
}

// RetryFunc is Retry for functions without a result.
func RetryFunc(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := Retry(ctx, cfg, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}
