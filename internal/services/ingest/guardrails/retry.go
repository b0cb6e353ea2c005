package guardrails

import (
	"context"
	"math/rand/v2"
	"time"

	perr "nutrisage/internal/platform/errors"
	"nutrisage/internal/platform/logger"
)

// Policy bounds a retry loop
type Policy struct {
	MaxAttempts int           // <=0 -> 1
	Base        time.Duration // first backoff; <=0 -> 250ms
	Max         time.Duration // backoff cap; <=0 -> 10s
}

// Result is the outcome of Retry
// Exhausted is true when every attempt failed with a retryable error
type Result struct {
	Attempts  int
	Err       error
	Exhausted bool
}

// OK reports success
func (r Result) OK() bool { return r.Err == nil }

// sleep is a seam so tests do not wait on backoff
var sleep = sleepCtx

// Retry runs fn until it succeeds, fails with a non-retryable error, or attempts run out
// Each attempt gets its own context bounded by perAttempt; backoff is exponential with jitter
func Retry(ctx context.Context, p Policy, perAttempt time.Duration, op string, fn func(ctx context.Context) error) Result {
	attempts := max(p.MaxAttempts, 1)
	base := p.Base
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	ceiling := p.Max
	if ceiling <= 0 {
		ceiling = 10 * time.Second
	}

	var res Result
	for i := range attempts {
		res.Attempts = i + 1
		actx, cancel := withChildTimeout(ctx, perAttempt)
		err := fn(actx)
		cancel()
		if err == nil {
			res.Err = nil
			return res
		}
		res.Err = err

		if !perr.Retryable(err) || ctx.Err() != nil {
			return res
		}
		if i == attempts-1 {
			res.Exhausted = true
			break
		}

		d := min(base<<i, ceiling)
		j := d/2 + time.Duration(rand.Int64N(int64(d/2)+1))
		logger.C(ctx).Warn().
			Err(err).
			Str("op", op).
			Int("attempt", i+1).
			Int("max_attempts", attempts).
			Dur("backoff", j).
			Msg("retrying after transient failure")
		if se := sleep(ctx, j); se != nil {
			res.Err = se
			return res
		}
	}
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
