package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T, l *Loop) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func TestLoop_OnRepeatRunsPeriodically(t *testing.T) {
	l := New()
	var runs atomic.Int32
	l.OnRepeat(5*time.Millisecond, func(time.Time) { runs.Add(1) })

	startLoop(t, l)

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestLoop_PostRunsOnLoop(t *testing.T) {
	l := New()
	startLoop(t, l)

	got := make(chan time.Time, 1)
	require.True(t, l.Post(func(now time.Time) { got <- now }))

	select {
	case now := <-got:
		assert.False(t, now.IsZero())
	case <-time.After(time.Second):
		t.Fatal("posted callback did not run")
	}
}

func TestLoop_CallbacksNeverOverlap(t *testing.T) {
	l := New()
	var active, overlaps, calls atomic.Int32
	cb := func(time.Time) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(100 * time.Microsecond)
		calls.Add(1)
		active.Add(-1)
	}
	l.OnRepeat(time.Millisecond, cb)
	l.OnRepeat(2*time.Millisecond, cb)

	startLoop(t, l)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				l.Post(cb)
			}
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return calls.Load() >= 120 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(0), overlaps.Load())
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	l := New()
	cancel, errCh := startLoop(t, l)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	assert.False(t, l.Post(func(time.Time) {}))
	select {
	case <-l.Done():
	default:
		t.Fatal("Done not closed after Run returned")
	}
}

func TestLoop_RunDueDoesNotReplayMissedPeriods(t *testing.T) {
	l := New()
	var runs int
	l.OnRepeat(time.Second, func(time.Time) { runs++ })

	base := time.Date(2025, 6, 14, 8, 0, 0, 0, time.UTC)
	wait := l.runDue(base)
	assert.Equal(t, time.Second, wait)
	assert.Equal(t, 0, runs)

	// Ten periods late: runs once and waits a full period again.
	wait = l.runDue(base.Add(10 * time.Second))
	assert.Equal(t, 1, runs)
	assert.Equal(t, time.Second, wait)

	wait = l.runDue(base.Add(10500 * time.Millisecond))
	assert.Equal(t, 1, runs)
	assert.Equal(t, 500*time.Millisecond, wait)
}

func TestLoop_RunDueKeepsCadence(t *testing.T) {
	l := New()
	var stamps []time.Time
	l.OnRepeat(time.Second, func(now time.Time) { stamps = append(stamps, now) })

	base := time.Date(2025, 6, 14, 8, 0, 0, 0, time.UTC)
	l.runDue(base)
	l.runDue(base.Add(1100 * time.Millisecond))
	wait := l.runDue(base.Add(1200 * time.Millisecond))

	require.Len(t, stamps, 1)
	assert.Equal(t, 800*time.Millisecond, wait)
}

func TestLoop_Len(t *testing.T) {
	l := New()
	l.Post(func(time.Time) {})
	l.Post(func(time.Time) {})
	assert.Equal(t, 2, l.Len())
}
