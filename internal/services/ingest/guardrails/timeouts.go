// Package guardrails holds time budgets and the bounded retry loop for storage work
package guardrails

import (
	"context"
	"time"
)

// Timeouts is a budget bundle for one run
// Zero values mean no extra timeout at that level
type Timeouts struct {
	// Run is the overall time budget for one ingest run
	Run time.Duration

	// Publish caps a single shard or summary upload attempt
	Publish time.Duration

	// Archive caps the whole raw archive copy
	Archive time.Duration

	// DB caps ledger and catalog writes
	DB time.Duration
}

// WithRun returns a context limited by the run budget without extending any parent deadline
func WithRun(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Run)
}

// ForPublish returns a sub context for one upload attempt
func ForPublish(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Publish)
}

// ForArchive returns a sub context for the raw archive copy
func ForArchive(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Archive)
}

// ForDB returns a sub context for ledger and catalog writes
func ForDB(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.DB)
}

// Remaining returns the time until the deadline on ctx or zero when none is set or already expired
func Remaining(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
	}
	return 0
}

// withChildTimeout chooses the tighter of d and any parent remainder; never extends the parent deadline
func withChildTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	if rem := Remaining(parent); rem > 0 && rem < d {
		return context.WithTimeout(parent, rem)
	}
	return context.WithTimeout(parent, d)
}
