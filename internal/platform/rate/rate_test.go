// internal/platform/rate/rate_test.go
package rate

import (
	"context"
	"testing"
	"time"

	"strata/internal/testutil"
)

func TestAllow_ConsumesBurstThenDenies(t *testing.T) {
	l := New(1, 3)

	for i := 0; i < 3; i++ {
		testutil.AssertTrue(t, l.Allow(), "burst token should be available")
	}
	testutil.AssertFalse(t, l.Allow(), "bucket should be empty after burst")
}

func TestAllow_RefillsOverTime(t *testing.T) {
	l := New(100, 1)

	testutil.AssertTrue(t, l.Allow(), "initial token")
	testutil.AssertFalse(t, l.Allow(), "drained")

	time.Sleep(15 * time.Millisecond)
	testutil.AssertTrue(t, l.Allow(), "token refilled at 100/s")
}

func TestWait_PacesCalls(t *testing.T) {
	l := New(50, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		testutil.AssertNoError(t, l.Wait(ctx), "wait")
	}
	elapsed := time.Since(start)

	// One token up front, two more at 20ms each.
	testutil.AssertTrue(t, elapsed >= 30*time.Millisecond,
		"three calls at 50/s should take at least ~30ms, got "+elapsed.String())
}

func TestWait_CancelledContext(t *testing.T) {
	l := New(0.001, 1)
	testutil.AssertTrue(t, l.Allow(), "drain the only token")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	testutil.AssertError(t, err, "wait should fail once ctx expires")
	testutil.AssertEqual(t, err, context.DeadlineExceeded, "ctx error surfaced")
}

func TestNew_ClampsInvalidArguments(t *testing.T) {
	l := New(-5, 0)

	testutil.AssertTrue(t, l.Allow(), "clamped burst of 1 still grants a token")
	testutil.AssertFalse(t, l.Allow(), "capacity clamped to 1")
}

func TestTokens_And_Reset(t *testing.T) {
	l := New(0.001, 4)

	for i := 0; i < 4; i++ {
		l.Allow()
	}
	testutil.AssertTrue(t, l.Tokens() < 1, "bucket near empty")

	l.Reset()
	testutil.AssertTrue(t, l.Tokens() >= 4, "reset refills to capacity")
}
