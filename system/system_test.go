package system

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/relaydata/dax/termination"
	"github.com/relaydata/dax/testing/testcontext"
)

func TestSystem_RunStopsOnTermination(t *testing.T) {
	ctx := testcontext.Background()
	sys := New(ctx)

	restore := terminationTestHook
	terminationTestHook = func(context.Context, time.Duration) error {
		return termination.ErrTerminated
	}
	t.Cleanup(func() { terminationTestHook = restore })

	var served atomic.Bool
	sys.AddService(func(ctx context.Context) error {
		served.Store(true)
		<-ctx.Done()
		return nil
	})

	err := sys.Run(0)
	assert.Check(t, cmp.ErrorIs(err, termination.ErrTerminated))
	assert.Check(t, served.Load())
}

func TestSystem_Cleanup(t *testing.T) {
	ctx := testcontext.Background()
	sys := New(ctx)

	order := []string{}
	sys.AddCleanup(func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	sys.AddCleanup(func(context.Context) error {
		order = append(order, "second")
		return nil
	})

	sys.Cleanup(ctx)
	assert.Check(t, cmp.DeepEqual(order, []string{"first", "second"}))
}

func TestSystem_HealthChecksAreExposed(t *testing.T) {
	sys := New(testcontext.Background())
	sys.AddHealthCheck(&staticCheck{name: "orders-db"})

	checks := sys.HealthChecks()
	assert.Check(t, cmp.Len(checks, 1))
	name, _, _ := checks[0].HealthChecks()
	assert.Check(t, cmp.Equal(name, "orders-db"))
}

type staticCheck struct {
	name string
}

func (s *staticCheck) HealthChecks() (string, func(ctx context.Context) error, func(ctx context.Context) error) {
	return s.name, nil, nil
}
