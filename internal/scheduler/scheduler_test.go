package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInvokesTickEachInterval(t *testing.T) {
	start := time.Date(2024, time.June, 1, 12, 0, 30, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	s := New(Options{Interval: time.Minute, AlignToStart: true, Clock: clock}, zerolog.Nop())

	var mu sync.Mutex
	var ticks []time.Time
	ticked := make(chan struct{}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(_ context.Context, at time.Time) error {
			mu.Lock()
			ticks = append(ticks, at)
			mu.Unlock()
			ticked <- struct{}{}
			return errors.New("tick errors are logged, not fatal")
		})
	}()

	for i := 0; i < 2; i++ {
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
		require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
		waitCancel()
		clock.Advance(time.Minute)
		select {
		case <-ticked:
		case <-time.After(2 * time.Second):
			t.Fatal("tick not invoked")
		}
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Time{
		time.Date(2024, time.June, 1, 12, 1, 0, 0, time.UTC),
		time.Date(2024, time.June, 1, 12, 2, 0, 0, time.UTC),
	}, ticks)
}

func TestRunStopsDuringStartupDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(Options{Interval: time.Minute, StartupDelay: time.Hour, Clock: clock}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("tick must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextTick(t *testing.T) {
	now := time.Date(2024, time.June, 1, 12, 7, 0, 0, time.UTC)

	aligned := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())
	assert.Equal(t, time.Date(2024, time.June, 1, 12, 10, 0, 0, time.UTC), aligned.nextTick(now))

	free := New(Options{Interval: 5 * time.Minute}, zerolog.Nop())
	assert.Equal(t, now.Add(5*time.Minute), free.nextTick(now))
}

func TestNewPanicsOnNonPositiveInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}
