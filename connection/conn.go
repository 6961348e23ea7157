package connection

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jmoiron/sqlx"

	"github.com/relaydata/dax/governor"
	"github.com/relaydata/dax/o11y"
)

// ExecutionType classifies a request as reading or writing, which decides
// the role (and so the governor and target) that serves it.
type ExecutionType int

const (
	Read ExecutionType = iota
	Write
)

func (e ExecutionType) String() string {
	if e == Write {
		return "write"
	}
	return "read"
}

// Conn is a tracked connection: one live physical connection plus the local
// state the manager needs to govern it.
type Conn struct {
	id int64
	m  *Manager
	cx *sqlx.Conn

	// readOnly connections reject writes; under SingleWriter mode every
	// ephemeral read connection is read-only so a write on anything but the
	// pinned writer fails.
	readOnly   bool
	shared     bool
	persistent bool

	permit    *governor.Permit
	holdStart time.Time

	// serialize, when set, is the manager-level lock all users of a shared
	// persistent connection must hold while a statement runs on it.
	serialize *sync.Mutex

	// parent links a transaction's view of a shared persistent connection
	// back to the tracked handle, so driver failures and destruction land on
	// the real connection.
	parent *Conn

	stmts     *lru.Cache
	setupDone bool

	closed atomic.Bool
	broken atomic.Bool
}

func (c *Conn) ID() int64      { return c.id }
func (c *Conn) Shared() bool   { return c.shared }
func (c *Conn) ReadOnly() bool { return c.readOnly }

func (c *Conn) HeldFor() time.Duration {
	return time.Since(c.holdStart)
}

// Broken reports whether a statement on this connection failed at the driver
// level; broken connections are destroyed rather than reused.
func (c *Conn) Broken() bool { return c.broken.Load() }

func (c *Conn) guard(et ExecutionType) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: connection is closed", ErrInvalidOperation)
	}
	if et == Write && c.readOnly {
		return fmt.Errorf("%w: write on a read-only connection", ErrInvalidOperation)
	}
	return nil
}

func (c *Conn) lock() func() {
	if c.serialize == nil {
		return func() {}
	}
	c.serialize.Lock()
	return c.serialize.Unlock
}

// ExecContext executes the query with placeholder parameters that match the
// args. Use this for statements where you do not care about returned rows.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := c.guard(Write); err != nil {
		return nil, err
	}
	unlock := c.lock()
	defer unlock()
	res, err := c.cx.ExecContext(ctx, query, args...)
	c.observe(err)
	return res, err
}

// GetContext binds args to placeholder parameters and maps a single row
// result onto dest, which must be a pointer to a struct. No result returns
// sql.ErrNoRows.
func (c *Conn) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := c.guard(Read); err != nil {
		return err
	}
	unlock := c.lock()
	defer unlock()
	err := c.cx.GetContext(ctx, dest, query, args...)
	c.observe(err)
	return err
}

// SelectContext binds args to placeholder parameters and scans each
// resultant row into dest, which must be a slice.
func (c *Conn) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := c.guard(Read); err != nil {
		return err
	}
	unlock := c.lock()
	defer unlock()
	err := c.cx.SelectContext(ctx, dest, query, args...)
	c.observe(err)
	return err
}

// QueryxContext runs the query and returns the rows for manual scanning.
func (c *Conn) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	if err := c.guard(Read); err != nil {
		return nil, err
	}
	unlock := c.lock()
	defer unlock()
	rows, err := c.cx.QueryxContext(ctx, query, args...)
	c.observe(err)
	return rows, err
}

// PrepareContext prepares a statement on this connection, caching it by
// statement shape. Evicted statements are closed.
func (c *Conn) PrepareContext(ctx context.Context, query string) (*sqlx.Stmt, error) {
	if err := c.guard(Read); err != nil {
		return nil, err
	}
	if cached, ok := c.stmts.Get(query); ok {
		return cached.(*sqlx.Stmt), nil
	}
	stmt, err := c.cx.PreparexContext(ctx, query)
	if err != nil {
		c.observe(err)
		return nil, err
	}
	c.stmts.Add(query, stmt)
	return stmt, nil
}

func (c *Conn) beginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("%w: connection is closed", ErrInvalidOperation)
	}
	tx, err := c.cx.BeginTxx(ctx, opts)
	c.observe(err)
	return tx, err
}

// observe marks the connection broken on driver-level connection failures so
// it is destroyed instead of reused.
func (c *Conn) observe(err error) {
	if c.parent != nil {
		c.parent.observe(err)
		return
	}
	if errors.Is(err, driver.ErrBadConn) {
		c.broken.Store(true)
	}
}

// txView is a handle over the same physical connection that skips the
// serialize lock. A transaction holding the lock for its whole life hands
// this out, so statements on the handle do not wait on the transaction's own
// lock.
func (c *Conn) txView(readOnly bool) *Conn {
	return &Conn{
		id:         c.id,
		m:          c.m,
		cx:         c.cx,
		readOnly:   c.readOnly || readOnly,
		shared:     c.shared,
		persistent: c.persistent,
		holdStart:  c.holdStart,
		stmts:      c.stmts,
		setupDone:  true,
		parent:     c,
	}
}

// applySessionSetup runs the dialect's per-connection setup once. Failures
// are logged and non-fatal: the optimization is simply skipped.
func (c *Conn) applySessionSetup(ctx context.Context, stmts []string) {
	if c.setupDone || len(stmts) == 0 {
		c.setupDone = true
		return
	}
	for _, stmt := range stmts {
		if _, err := c.cx.ExecContext(ctx, stmt); err != nil {
			o11y.LogError(ctx, "connection: session setup skipped",
				o11y.NewWarning(err.Error()),
				o11y.Field("statement", stmt),
			)
			break
		}
	}
	c.setupDone = true
}

// destroy closes the physical connection and releases its permit. Safe to
// call more than once; only the first call has any effect.
func (c *Conn) destroy(ctx context.Context) error {
	if c.parent != nil {
		return c.parent.destroy(ctx)
	}
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Evictions close the cached prepared statements.
	c.stmts.Purge()
	err := c.cx.Close()
	c.permit.Release()
	c.m.connClosed(ctx)
	return err
}

func newStmtCache(size int) *lru.Cache {
	cache, err := lru.NewWithEvict(size, func(_, value interface{}) {
		_ = value.(*sqlx.Stmt).Close()
	})
	if err != nil {
		// Only reachable with a non-positive size, which the manager
		// defaults away.
		panic(err)
	}
	return cache
}
