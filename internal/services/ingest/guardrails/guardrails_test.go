package guardrails

import (
	"context"
	"errors"
	"testing"
	"time"

	perr "nutrisage/internal/platform/errors"
	"nutrisage/internal/platform/testkit"
)

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	testkit.Swap(t, &sleep, func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	})
	return &waits
}

func TestRetry_SucceedsOnThirdAttempt(t *testing.T) {
	waits := noSleep(t)
	calls := 0
	res := Retry(context.Background(), Policy{MaxAttempts: 5, Base: 100 * time.Millisecond}, 0, "put", func(context.Context) error {
		calls++
		if calls < 3 {
			return perr.Unavailablef("flaky")
		}
		return nil
	})
	if !res.OK() || res.Attempts != 3 || res.Exhausted {
		t.Fatalf("res=%+v", res)
	}
	if len(*waits) != 2 {
		t.Fatalf("waits=%v", *waits)
	}
	// jitter keeps each wait within [d/2, d]
	if w := (*waits)[1]; w < 100*time.Millisecond || w > 200*time.Millisecond {
		t.Fatalf("second backoff %v outside [100ms,200ms]", w)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	noSleep(t)
	res := Retry(context.Background(), Policy{MaxAttempts: 3}, 0, "put", func(context.Context) error {
		return perr.Unavailablef("down")
	})
	if res.OK() || !res.Exhausted || res.Attempts != 3 {
		t.Fatalf("res=%+v", res)
	}
}

func TestRetry_NonRetryableStops(t *testing.T) {
	noSleep(t)
	res := Retry(context.Background(), Policy{MaxAttempts: 3}, 0, "put", func(context.Context) error {
		return perr.Storagef("denied")
	})
	if res.Attempts != 1 || res.Exhausted || !perr.IsCode(res.Err, perr.ErrorCodeStorage) {
		t.Fatalf("res=%+v", res)
	}
}

func TestRetry_AttemptTimeoutIsRetried(t *testing.T) {
	noSleep(t)
	calls := 0
	res := Retry(context.Background(), Policy{MaxAttempts: 2}, 10*time.Millisecond, "put", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	if !res.OK() || res.Attempts != 2 {
		t.Fatalf("res=%+v", res)
	}
}

func TestRetry_ParentCancelStops(t *testing.T) {
	noSleep(t)
	ctx, cancel := context.WithCancel(context.Background())
	res := Retry(ctx, Policy{MaxAttempts: 5}, 0, "put", func(context.Context) error {
		cancel()
		return perr.Unavailablef("down")
	})
	if res.Attempts != 1 || res.Exhausted {
		t.Fatalf("res=%+v", res)
	}
}

func TestRetry_ZeroPolicyRunsOnce(t *testing.T) {
	noSleep(t)
	boom := errors.New("boom")
	res := Retry(context.Background(), Policy{}, 0, "put", func(context.Context) error { return boom })
	if res.Attempts != 1 || !errors.Is(res.Err, boom) {
		t.Fatalf("res=%+v", res)
	}
}

func TestWithChildTimeout_NeverExtendsParent(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ctx, c2 := ForPublish(parent, Timeouts{Publish: time.Hour})
	defer c2()
	if Remaining(ctx) > 50*time.Millisecond {
		t.Fatalf("child deadline extends parent: %v", Remaining(ctx))
	}
}

func TestWithChildTimeout_ZeroInheritsDeadline(t *testing.T) {
	ctx, cancel := ForDB(context.Background(), Timeouts{})
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatalf("zero budget should not set a deadline")
	}
	if Remaining(ctx) != 0 {
		t.Fatalf("Remaining without deadline should be zero")
	}
	rctx, rcancel := WithRun(context.Background(), Timeouts{Run: time.Minute})
	defer rcancel()
	if Remaining(rctx) <= 0 {
		t.Fatalf("run budget should set a deadline")
	}
	actx, acancel := ForArchive(context.Background(), Timeouts{Archive: time.Minute})
	defer acancel()
	if _, ok := actx.Deadline(); !ok {
		t.Fatalf("archive budget should set a deadline")
	}
}
