package connection

import (
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/relaydata/dax/system"
	"github.com/relaydata/dax/testing/testcontext"
)

func TestManager_Ping(t *testing.T) {
	ctx := testcontext.Background()
	m, db := newFakeManager(t, Config{
		WriterTarget: "postgres://app@db.internal/orders",
		SessionSetup: []string{},
	})

	assert.NilError(t, m.Ping(ctx))
	assert.Check(t, db.sawStatement(`SELECT 1`))
}

func TestHealthCheck_Gauges(t *testing.T) {
	ctx := testcontext.Background()
	m, _ := newFakeManager(t, Config{
		WriterTarget: "postgres://app@db.internal/orders",
		SessionSetup: []string{},
	})

	c, err := m.GetConnection(ctx, Write, false)
	assert.NilError(t, err)
	defer m.ReleaseConnection(ctx, c)

	check := &HealthCheck{Name: "orders-db", Manager: m}
	gauges := check.Gauges(ctx)

	assert.Check(t, cmp.Equal(gauges["open"], float64(1)))
	assert.Check(t, cmp.Equal(gauges["writer_in_use"], float64(1)))
	_, hasEngine := gauges["engine_in_use"]
	assert.Check(t, hasEngine)
}

func TestLoad_RegistersWithTheSystem(t *testing.T) {
	ctx := testcontext.Background()
	sys := system.New(ctx)

	// Reuse the fake driver seam from newFakeManager by constructing the
	// manager through it first, then registering a second one via Load with
	// the same seam in place.
	_, _ = newFakeManager(t, Config{
		WriterTarget: "postgres://app@db.internal/orders",
		SessionSetup: []string{},
	})

	m, err := Load(ctx, "orders", Config{
		WriterTarget: "postgres://app@db.internal/orders",
		SessionSetup: []string{},
		SkipProbe:    true,
	}, sys)
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(m.Stats().Name, "orders"))

	checks := sys.HealthChecks()
	assert.Check(t, cmp.Len(checks, 1))
	name, ready, _ := checks[0].HealthChecks()
	assert.Check(t, cmp.Equal(name, "orders-db"))
	assert.NilError(t, ready(ctx))

	// Cleanup closes the manager.
	sys.Cleanup(ctx)
	_, err = m.GetConnection(ctx, Read, false)
	assert.Check(t, cmp.ErrorIs(err, ErrInvalidOperation))
}
