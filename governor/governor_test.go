package governor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestGovernor_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	g := New(Config{Capacity: 2, Timeout: 50 * time.Millisecond})

	p1, err := g.Acquire(ctx)
	assert.NilError(t, err)
	p2, err := g.Acquire(ctx)
	assert.NilError(t, err)

	assert.Check(t, cmp.Equal(g.Stats().InUse, int64(2)))

	// The pool is full; the next acquire waits out the timeout.
	_, err = g.Acquire(ctx)
	assert.Check(t, cmp.ErrorIs(err, ErrPoolTimeout))

	p1.Release()
	p3, err := g.Acquire(ctx)
	assert.NilError(t, err)

	p2.Release()
	p3.Release()

	s := g.Stats()
	assert.Check(t, cmp.Equal(s.InUse, int64(0)))
	assert.Check(t, cmp.Equal(s.Peak, int64(2)))
	assert.Check(t, cmp.Equal(s.Acquires, int64(4)))
	assert.Check(t, s.Waits >= 1)
}

func TestGovernor_CallerCancellationWinsOverTimeout(t *testing.T) {
	g := New(Config{Capacity: 1, Timeout: time.Minute})

	p, err := g.Acquire(context.Background())
	assert.NilError(t, err)
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = g.Acquire(ctx)
	assert.Check(t, cmp.ErrorIs(err, context.Canceled))
	assert.Check(t, cmp.Equal(g.Stats().InUse, int64(1)))
}

func TestGovernor_ConcurrentAcquiresRespectCapacity(t *testing.T) {
	ctx := context.Background()
	g := New(Config{Capacity: 2, Timeout: 100 * time.Millisecond})

	// Three callers race for two slots: two must win and hold them, and
	// exactly one must wait out the timeout.
	var timeouts atomic.Int64
	release := make(chan struct{})
	var eg errgroup.Group
	for i := 0; i < 3; i++ {
		eg.Go(func() error {
			p, err := g.Acquire(ctx)
			if err != nil {
				if !errors.Is(err, ErrPoolTimeout) {
					return err
				}
				timeouts.Add(1)
				return nil
			}
			<-release
			p.Release()
			return nil
		})
	}
	for timeouts.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(release)
	assert.NilError(t, eg.Wait())

	s := g.Stats()
	assert.Check(t, cmp.Equal(timeouts.Load(), int64(1)))
	assert.Check(t, cmp.Equal(s.InUse, int64(0)))
	assert.Check(t, cmp.Equal(s.Peak, int64(2)))
	assert.Check(t, s.Waits >= 1)
	assert.Check(t, s.TotalWait >= 100*time.Millisecond)
}

func TestGovernor_CapacityOneHoldersNeverOverlap(t *testing.T) {
	ctx := context.Background()
	g := New(Config{Capacity: 1, Timeout: time.Second})

	var active, maxActive atomic.Int64
	var eg errgroup.Group
	for i := 0; i < 4; i++ {
		eg.Go(func() error {
			p, err := g.Acquire(ctx)
			if err != nil {
				return err
			}
			n := active.Add(1)
			for {
				max := maxActive.Load()
				if n <= max || maxActive.CompareAndSwap(max, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			p.Release()
			return nil
		})
	}
	assert.NilError(t, eg.Wait())

	assert.Check(t, cmp.Equal(maxActive.Load(), int64(1)))
	assert.Check(t, cmp.Equal(g.Stats().Peak, int64(1)))
	assert.Check(t, cmp.Equal(g.Stats().InUse, int64(0)))
}

func TestGovernor_DoubleReleaseIsIgnored(t *testing.T) {
	ctx := context.Background()
	g := New(Config{Capacity: 1, Timeout: 50 * time.Millisecond})

	p, err := g.Acquire(ctx)
	assert.NilError(t, err)
	p.Release()
	p.Release()

	// If the double release had over-credited the pool, two acquires would
	// succeed here.
	p1, err := g.Acquire(ctx)
	assert.NilError(t, err)
	_, err = g.Acquire(ctx)
	assert.Check(t, cmp.ErrorIs(err, ErrPoolTimeout))
	p1.Release()

	assert.Check(t, cmp.Equal(g.Stats().InUse, int64(0)))
}

func TestGovernor_Disabled(t *testing.T) {
	ctx := context.Background()
	g := New(Config{Disabled: true})

	for i := 0; i < 100; i++ {
		p, err := g.Acquire(ctx)
		assert.NilError(t, err)
		p.Release()
	}
	assert.Check(t, g.Stats().Disabled)
}

func TestGovernor_NilIsSafe(t *testing.T) {
	var g *Governor
	p, err := g.Acquire(context.Background())
	assert.NilError(t, err)
	p.Release()
	assert.Check(t, g.Stats().Disabled)
}

func TestNewPair_Independent(t *testing.T) {
	reader, writer := NewPair(PairConfig{ReaderCapacity: 5, WriterCapacity: 3})
	assert.Check(t, reader != writer)
	assert.Check(t, cmp.Equal(reader.Stats().Capacity, int64(5)))
	assert.Check(t, cmp.Equal(writer.Stats().Capacity, int64(3)))
	assert.Check(t, !reader.Stats().Shared)
}

func TestNewPair_SharedUsesMinimumCapacity(t *testing.T) {
	reader, writer := NewPair(PairConfig{ReaderCapacity: 5, WriterCapacity: 3, Share: true})
	assert.Check(t, reader == writer)
	assert.Check(t, cmp.Equal(writer.Stats().Capacity, int64(3)))
	assert.Check(t, writer.Stats().Shared)
}

func TestNewPair_WriterPinnedReservesASlot(t *testing.T) {
	reader, writer := NewPair(PairConfig{
		ReaderCapacity: 4, WriterCapacity: 4,
		Share: true, WriterPinned: true,
	})
	assert.Check(t, reader != writer)
	assert.Check(t, cmp.Equal(writer.Stats().Capacity, int64(1)))
	assert.Check(t, cmp.Equal(reader.Stats().Capacity, int64(3)))
}

func TestNewPair_WriterPinnedWithIndependentTargets(t *testing.T) {
	reader, writer := NewPair(PairConfig{
		ReaderCapacity: 20, WriterCapacity: 20,
		WriterPinned: true,
	})
	assert.Check(t, cmp.Equal(writer.Stats().Capacity, int64(1)))
	assert.Check(t, cmp.Equal(reader.Stats().Capacity, int64(20)))
	assert.Check(t, !writer.Stats().Shared)
}

func TestNewPair_SingleConnection(t *testing.T) {
	reader, writer := NewPair(PairConfig{SingleConnection: true})
	assert.Check(t, cmp.Equal(writer.Stats().Capacity, int64(1)))
	assert.Check(t, reader.Stats().Disabled)
}
