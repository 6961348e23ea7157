package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestRun_BacksOffWhenThereIsNoWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	counter := 0
	expected := 10
	f := func(ctx context.Context) error {
		counter++
		if counter == expected {
			cancel()
		}
		return ErrShouldBackoff
	}

	waitCalls := 0
	waiter := func(_ context.Context, delay time.Duration) {
		waitCalls++
	}

	backOff := new(fakeBackOff)
	Run(ctx, Config{
		NoWorkBackOff: backOff,
		WorkFunc:      f,
		waiter:        waiter,
	})

	assert.Check(t, cmp.Equal(backOff.nextCallCount, expected))
	assert.Check(t, cmp.Equal(waitCalls, expected))
	assert.Check(t, cmp.Equal(backOff.resetCallCount, 1),
		"reset should only be called once to initialize it")
}

func TestRun_DoesNotSleepWhileThereIsWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	counter := 0
	expected := 3
	f := func(ctx context.Context) error {
		counter++
		if counter == expected {
			cancel()
		}
		return nil
	}

	waiter := func(_ context.Context, delay time.Duration) {
		panic("wait should never be called")
	}

	backOff := new(fakeBackOff)
	Run(ctx, Config{
		NoWorkBackOff: backOff,
		WorkFunc:      f,
		waiter:        waiter,
	})

	assert.Check(t, cmp.Equal(backOff.nextCallCount, 0))
	// Reset is called once to initialize the backOff
	assert.Check(t, cmp.Equal(backOff.resetCallCount, expected+1))
}

func TestRun_SurvivesAPanickingWorkFunc(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	counter := 0
	expected := 3
	f := func(ctx context.Context) error {
		counter++
		if counter == expected {
			cancel()
		}
		panic("something went horribly wrong")
	}

	waiter := func(_ context.Context, delay time.Duration) {
		panic("wait should never be called")
	}

	backOff := new(fakeBackOff)
	Run(ctx, Config{
		NoWorkBackOff: backOff,
		WorkFunc:      f,
		waiter:        waiter,
	})

	assert.Check(t, cmp.Equal(counter, expected))
}

func TestRun_DoesNotSleepAfterOtherErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	counter := 0
	expected := 3
	f := func(ctx context.Context) error {
		counter++
		if counter == expected {
			cancel()
		}
		return errors.New("something went horribly wrong")
	}

	waiter := func(_ context.Context, delay time.Duration) {
		panic("wait should never be called")
	}

	backOff := new(fakeBackOff)
	Run(ctx, Config{
		NoWorkBackOff: backOff,
		WorkFunc:      f,
		waiter:        waiter,
	})

	assert.Check(t, cmp.Equal(backOff.nextCallCount, 0))
	// Reset is called once to initialize the backOff
	assert.Check(t, cmp.Equal(backOff.resetCallCount, expected+1))
}

type fakeBackOff struct {
	nextBackOff    time.Duration
	nextCallCount  int
	resetCallCount int
}

func (b *fakeBackOff) NextBackOff() time.Duration {
	b.nextCallCount++
	return b.nextBackOff
}

func (b *fakeBackOff) Reset() {
	b.resetCallCount++
}

var _ backoff.BackOff = &fakeBackOff{}
