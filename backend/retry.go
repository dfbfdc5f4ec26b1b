package backend

import (
	"context"
	"time"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/resilience"
)

type retrying struct {
	next   Backend
	policy resilience.Policy
	log    *logger.Logger
}

// WithRetry retries failed invocations whose error reports itself
// retryable. A policy with one attempt returns next unchanged.
func WithRetry(next Backend, policy resilience.Policy, log *logger.Logger) Backend {
	policy.ApplyDefaults()
	if policy.MaxAttempts <= 1 {
		return next
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &retrying{next: next, policy: policy, log: log.WithComponent("backend")}
}

func (r *retrying) Run(ctx context.Context, inv Invocation) (map[string]artifact.Location, error) {
	cfg := r.policy.RetryConfig()
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		r.log.Warn("Retrying step execution", logger.Fields(
			logger.FieldRun, inv.RunID,
			logger.FieldStep, inv.Step,
			"attempt", attempt,
			"backoff", backoff.String(),
			logger.FieldError, err.Error(),
		))
		// Partial writes from the failed attempt must not survive.
		if inv.Store != nil {
			locs := make([]artifact.Location, 0, len(inv.Outputs))
			for _, loc := range inv.Outputs {
				locs = append(locs, loc)
			}
			_ = inv.Store.Discard(ctx, locs...)
		}
	}
	return resilience.Retry(ctx, cfg, func() (map[string]artifact.Location, error) {
		return r.next.Run(ctx, inv)
	})
}
