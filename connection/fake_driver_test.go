package connection

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"gotest.tools/v3/assert"

	"github.com/relaydata/dax/testing/testcontext"
)

// fakeDB records everything the manager does at the driver level, so tests
// can assert on physical connections, statements and transaction outcomes
// without a real engine.
type fakeDB struct {
	connects    atomic.Int64
	begins      atomic.Int64
	commits     atomic.Int64
	rollbacks   atomic.Int64
	prepares    atomic.Int64
	closedStmts atomic.Int64

	mu    sync.Mutex
	stmts []string
}

func (d *fakeDB) record(query string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stmts = append(d.stmts, query)
}

func (d *fakeDB) statements() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.stmts))
	copy(out, d.stmts)
	return out
}

func (d *fakeDB) sawStatement(query string) bool {
	for _, s := range d.statements() {
		if s == query {
			return true
		}
	}
	return false
}

type fakeConnector struct {
	db *fakeDB
}

func (c fakeConnector) Connect(context.Context) (driver.Conn, error) {
	c.db.connects.Add(1)
	return &fakeConn{db: c.db}, nil
}

func (c fakeConnector) Driver() driver.Driver { return fakeDriver{db: c.db} }

type fakeDriver struct {
	db *fakeDB
}

func (d fakeDriver) Open(string) (driver.Conn, error) {
	d.db.connects.Add(1)
	return &fakeConn{db: d.db}, nil
}

type fakeConn struct {
	db *fakeDB
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	c.db.prepares.Add(1)
	return &fakeStmt{db: c.db, query: query}, nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.db.begins.Add(1)
	return &fakeTx{db: c.db}, nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.db.record(query)
	return driver.RowsAffected(1), nil
}

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.db.record(query)
	return &fakeRows{}, nil
}

type fakeStmt struct {
	db    *fakeDB
	query string
}

func (s *fakeStmt) Close() error {
	s.db.closedStmts.Add(1)
	return nil
}

func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec([]driver.Value) (driver.Result, error) {
	s.db.record(s.query)
	return driver.RowsAffected(1), nil
}

func (s *fakeStmt) Query([]driver.Value) (driver.Rows, error) {
	s.db.record(s.query)
	return &fakeRows{}, nil
}

type fakeRows struct{}

func (r *fakeRows) Columns() []string         { return []string{} }
func (r *fakeRows) Close() error              { return nil }
func (r *fakeRows) Next([]driver.Value) error { return io.EOF }

type fakeTx struct {
	db *fakeDB
}

func (t *fakeTx) Commit() error {
	t.db.commits.Add(1)
	return nil
}

func (t *fakeTx) Rollback() error {
	t.db.rollbacks.Add(1)
	return nil
}

// newFakeManager builds a manager whose engine classification comes from the
// target string, but whose connections all go to an in-memory fake driver.
func newFakeManager(t *testing.T, cfg Config) (*Manager, *fakeDB) {
	t.Helper()
	ctx := testcontext.Background()

	db := &fakeDB{}
	restore := sqlOpen
	sqlOpen = func(driverName, target string) (*sqlx.DB, error) {
		return sqlx.NewDb(sql.OpenDB(fakeConnector{db: db}), "postgres"), nil
	}
	t.Cleanup(func() { sqlOpen = restore })

	cfg.SkipProbe = true
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = time.Second
	}
	m, err := New(ctx, cfg)
	assert.NilError(t, err)
	t.Cleanup(func() { _ = m.Close(ctx) })
	return m, db
}
