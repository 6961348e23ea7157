package connection

import (
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/relaydata/dax/testing/testcontext"
)

func TestConn_StatementCacheReusesPreparedStatements(t *testing.T) {
	ctx := testcontext.Background()
	m, db := newFakeManager(t, Config{
		WriterTarget: "postgres://app@db.internal/orders",
		SessionSetup: []string{},
	})

	c, err := m.GetConnection(ctx, Write, false)
	assert.NilError(t, err)
	defer m.ReleaseConnection(ctx, c)

	const q = `SELECT id FROM orders WHERE total > $1`
	s1, err := c.PrepareContext(ctx, q)
	assert.NilError(t, err)
	s2, err := c.PrepareContext(ctx, q)
	assert.NilError(t, err)

	assert.Check(t, s1 == s2)
	assert.Check(t, cmp.Equal(db.prepares.Load(), int64(1)))
}

func TestConn_StatementCacheEvictionClosesStatements(t *testing.T) {
	ctx := testcontext.Background()
	m, db := newFakeManager(t, Config{
		WriterTarget:  "postgres://app@db.internal/orders",
		SessionSetup:  []string{},
		StmtCacheSize: 1,
	})

	c, err := m.GetConnection(ctx, Write, false)
	assert.NilError(t, err)

	_, err = c.PrepareContext(ctx, `SELECT 1`)
	assert.NilError(t, err)
	_, err = c.PrepareContext(ctx, `SELECT 2`)
	assert.NilError(t, err)

	// The second prepare evicted the first, which must have been closed.
	assert.Check(t, cmp.Equal(db.closedStmts.Load(), int64(1)))

	// Destroying the connection purges and closes the rest.
	m.ReleaseConnection(ctx, c)
	assert.Check(t, cmp.Equal(db.closedStmts.Load(), int64(2)))
}

func TestManager_CloseAndDiscardReplacesAPinnedConnection(t *testing.T) {
	ctx := testcontext.Background()
	m, _ := newFakeManager(t, Config{
		WriterTarget: "file:orders.db",
		SessionSetup: []string{},
	})

	w1, err := m.GetConnection(ctx, Write, false)
	assert.NilError(t, err)

	assert.NilError(t, m.CloseAndDiscard(ctx, w1))

	// The strategy notices the destroyed pin and opens a fresh one.
	w2, err := m.GetConnection(ctx, Write, false)
	assert.NilError(t, err)
	assert.Check(t, w2.ID() != w1.ID())

	// Discarding a handle twice is safe.
	assert.NilError(t, m.CloseAndDiscard(ctx, w1))
	m.ReleaseConnection(ctx, w2)
}
