// Package governor bounds the number of concurrently-live connections per
// role (reader/writer) through cooperative backpressure: callers acquire a
// permit before a connection may be created, and a full pool makes them wait
// rather than letting connection counts grow without bound.
package governor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrPoolTimeout means an Acquire exceeded its wait budget. It wraps
// context.DeadlineExceeded so timeout-aware callers classify it correctly.
// It is never retried internally: backpressure is a signal for the caller to
// shed load or retry at a higher layer.
var ErrPoolTimeout = fmt.Errorf("pool governor: timed out waiting for a connection permit: %w", context.DeadlineExceeded)

const DefaultTimeout = 10 * time.Second

type Config struct {
	// Capacity is the number of permits. Values below 1 are treated as 1
	// unless the governor is disabled.
	Capacity int
	// Timeout bounds how long Acquire waits for a free slot.
	Timeout time.Duration
	// Disabled makes every Acquire return a no-op permit immediately.
	Disabled bool
}

// Governor is a bounded capacity counter. The semaphore keeps acquire and
// release O(1); unrelated callers never serialize on each other. There is no
// FIFO guarantee among waiters.
type Governor struct {
	sem      *semaphore.Weighted
	capacity int64
	timeout  time.Duration
	disabled bool
	shared   bool

	inUse     atomic.Int64
	peak      atomic.Int64
	acquires  atomic.Int64
	waits     atomic.Int64
	waitNanos atomic.Int64
}

func New(cfg Config) *Governor {
	if cfg.Disabled {
		return &Governor{disabled: true}
	}
	capacity := cfg.Capacity
	if capacity < 1 {
		capacity = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Governor{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
		timeout:  timeout,
	}
}

// Permit is one slot of the governor's capacity. It must be released exactly
// once; extra releases are ignored.
type Permit struct {
	g        *Governor
	released atomic.Bool
}

// noop reports whether this permit holds no capacity (disabled governor).
func (p *Permit) noop() bool {
	return p == nil || p.g == nil
}

// Release returns the slot to the pool. Safe to call more than once; only the
// first call has any effect.
func (p *Permit) Release() {
	if p.noop() || !p.released.CompareAndSwap(false, true) {
		return
	}
	p.g.inUse.Add(-1)
	p.g.sem.Release(1)
}

// Acquire waits for a free capacity slot, up to the configured timeout. A
// cancelled or timed-out acquire leaves no partial resource allocated.
func (g *Governor) Acquire(ctx context.Context) (*Permit, error) {
	if g == nil || g.disabled {
		return &Permit{}, nil
	}
	g.acquires.Add(1)

	if !g.sem.TryAcquire(1) {
		// Contended path: count the wait and bound it.
		g.waits.Add(1)
		start := time.Now()

		waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
		err := g.sem.Acquire(waitCtx, 1)
		cancel()
		g.waitNanos.Add(int64(time.Since(start)))

		if err != nil {
			if ctx.Err() != nil {
				// The caller's own context ended; report that rather than a
				// pool timeout.
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w after %v", ErrPoolTimeout, g.timeout)
		}
	}

	current := g.inUse.Add(1)
	for {
		peak := g.peak.Load()
		if current <= peak || g.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	return &Permit{g: g}, nil
}

// Snapshot is a point-in-time read of the governor's counters.
type Snapshot struct {
	Capacity    int64
	Disabled    bool
	Shared      bool
	InUse       int64
	Peak        int64
	Acquires    int64
	Waits       int64
	TotalWait   time.Duration
	AverageWait time.Duration
}

func (g *Governor) Stats() Snapshot {
	if g == nil {
		return Snapshot{Disabled: true}
	}
	s := Snapshot{
		Capacity:  g.capacity,
		Disabled:  g.disabled,
		Shared:    g.shared,
		InUse:     g.inUse.Load(),
		Peak:      g.peak.Load(),
		Acquires:  g.acquires.Load(),
		Waits:     g.waits.Load(),
		TotalWait: time.Duration(g.waitNanos.Load()),
	}
	if s.Waits > 0 {
		s.AverageWait = s.TotalWait / time.Duration(s.Waits)
	}
	return s
}
