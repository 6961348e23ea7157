package connection

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/relaydata/dax/isolation"
	"github.com/relaydata/dax/o11y"
)

// TxOptions selects the isolation and access mode for a transaction. Set
// either Level or Profile, not both; an explicit Level wins.
type TxOptions struct {
	// Level is an explicit engine isolation level. It is validated against
	// the engine's supported set.
	Level sql.IsolationLevel
	// Profile is an abstract requirement resolved per engine.
	Profile isolation.Profile
	// ReadOnly transactions run on the read role and reject writes.
	ReadOnly bool
}

const (
	txActive int32 = iota
	txCommitted
	txRolledBack
)

// Tx is an open transaction bound to one tracked connection. It is finished
// by exactly one of Commit, Rollback or Close; later completion attempts
// return ErrAlreadyCompleted.
type Tx struct {
	m    *Manager
	conn *Conn
	tx   *sqlx.Tx

	res      isolation.Resolution
	readOnly bool
	start    time.Time

	// mu guards completion so a racing Commit and Close settle on exactly
	// one terminal state.
	mu    sync.Mutex
	state atomic.Int32

	// unlock releases the serialize lock held for the life of a transaction
	// on a shared persistent connection.
	unlock func()

	// view is the handle GetConnection hands out while the transaction holds
	// the serialize lock; statements on it must not wait on that lock.
	view *Conn
}

// BeginTx opens a transaction at the isolation the options resolve to.
func (m *Manager) BeginTx(ctx context.Context, opts TxOptions) (tx *Tx, err error) {
	ctx, span := o11y.StartSpan(ctx, "connection: begin tx")
	defer o11y.End(span, &err)

	if m.closed.Load() {
		return nil, fmt.Errorf("%w: manager is closed", ErrInvalidOperation)
	}
	et := Write
	if opts.ReadOnly {
		et = Read
	}
	if err := m.checkAccess(et); err != nil {
		return nil, err
	}

	res, err := m.resolveTxIsolation(ctx, opts)
	if err != nil {
		return nil, err
	}
	span.AddRawField("isolation", res.Level.String())
	span.AddRawField("degraded", res.Degraded)

	// Transactions pin their connection, so they always take the shared one
	// where the strategy has one.
	c, err := m.strat.acquire(ctx, et, true)
	if err != nil {
		return nil, err
	}

	sqlOpts := &sql.TxOptions{}
	if m.facts.AcceptsTxIsolation {
		sqlOpts.Isolation = res.Level
	}
	if m.facts.SupportsReadOnlyTx {
		sqlOpts.ReadOnly = opts.ReadOnly
	}

	t := &Tx{
		m:        m,
		conn:     c,
		res:      res,
		readOnly: opts.ReadOnly,
		start:    time.Now(),
		unlock:   func() {},
	}
	// On a shared persistent connection the serialize lock is held for the
	// whole transaction, not per statement: interleaved statements from
	// another caller would otherwise run inside this transaction.
	if c.serialize != nil {
		c.serialize.Lock()
		t.unlock = c.serialize.Unlock
		t.view = c.txView(opts.ReadOnly)
	}

	stx, err := c.beginTx(ctx, sqlOpts)
	if err != nil {
		t.unlock()
		m.strat.release(ctx, c)
		return nil, fmt.Errorf("%w: begin: %s", ErrConnectionFailed, err)
	}
	t.tx = stx
	return t, nil
}

// resolveTxIsolation turns TxOptions into a concrete level. An explicit level
// is validated; a profile is resolved, logging any degradation; neither means
// the engine's preferred default.
func (m *Manager) resolveTxIsolation(ctx context.Context, opts TxOptions) (isolation.Resolution, error) {
	if opts.Level != sql.LevelDefault {
		if m.facts.UpgradesToSerializable {
			// The engine upgrades everything anyway; record what will run.
			return isolation.Resolution{Level: sql.LevelSerializable}, nil
		}
		if err := m.resolver.Validate(opts.Level); err != nil {
			return isolation.Resolution{}, err
		}
		return isolation.Resolution{Level: opts.Level}, nil
	}
	if opts.Profile != isolation.ProfileDefault {
		res, err := m.resolver.ResolveWithDetail(opts.Profile)
		if err != nil {
			return isolation.Resolution{}, err
		}
		if res.Degraded {
			o11y.Log(ctx, "connection: isolation degraded",
				o11y.Field("profile", res.Profile.String()),
				o11y.Field("level", res.Level.String()),
			)
		}
		return res, nil
	}
	return isolation.Resolution{Level: m.resolver.DefaultLevel()}, nil
}

// Isolation returns the resolution the transaction was opened with. On
// engines that do not accept explicit levels this is the recorded intent, not
// a level the engine was told.
func (t *Tx) Isolation() isolation.Resolution { return t.res }

func (t *Tx) WasCommitted() bool  { return t.state.Load() == txCommitted }
func (t *Tx) WasRolledBack() bool { return t.state.Load() == txRolledBack }

// completed classifies a finished transaction for completion attempts.
// Callers hold t.mu.
func (t *Tx) completed() error {
	switch t.state.Load() {
	case txRolledBack:
		return ErrTxRolledBack
	case txCommitted:
		return ErrAlreadyCompleted
	}
	return nil
}

// finish releases everything the transaction held. Called exactly once, under
// t.mu, by whichever completion won.
func (t *Tx) finish(ctx context.Context, result string) {
	t.unlock()
	t.m.strat.release(ctx, t.conn)
	if span := o11y.FromContext(ctx).GetSpan(ctx); span != nil {
		span.RecordMetric(o11y.Timing("connection.tx", "result"))
		span.AddRawField("result", result)
	}
}

// Commit commits the transaction and releases its connection.
func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.completed(); err != nil {
		return err
	}
	err := t.tx.Commit()
	if err != nil {
		// A failed commit still terminates the transaction.
		t.state.Store(txRolledBack)
		t.conn.observe(err)
		t.finish(ctx, "commit_failed")
		return err
	}
	t.state.Store(txCommitted)
	t.finish(ctx, "committed")
	return nil
}

// Rollback rolls the transaction back and releases its connection.
func (t *Tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.completed(); err != nil {
		return err
	}
	err := t.tx.Rollback()
	t.state.Store(txRolledBack)
	t.conn.observe(err)
	t.finish(ctx, "rolled_back")
	return err
}

// Close makes the transaction safe to defer: a transaction still active is
// rolled back and the rollback logged as a warning, never propagated. After
// an explicit Commit or Rollback it does nothing.
func (t *Tx) Close(ctx context.Context) {
	if !t.mu.TryLock() {
		// A completion is in flight on another goroutine; it owns cleanup.
		o11y.Log(ctx, "connection: tx close skipped, completion in flight")
		return
	}
	defer t.mu.Unlock()
	if t.state.Load() != txActive {
		return
	}
	err := t.tx.Rollback()
	t.state.Store(txRolledBack)
	t.conn.observe(err)
	t.finish(ctx, "abandoned")
	o11y.LogError(ctx, "connection: tx abandoned",
		o11y.NewWarning("transaction closed without commit"))
	if err != nil {
		o11y.LogError(ctx, "connection: rollback on close failed", o11y.NewWarning(err.Error()))
	}
}

var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (t *Tx) savepointStmt(template, name string) (string, error) {
	if !savepointName.MatchString(name) {
		return "", fmt.Errorf("%w: invalid savepoint name %q", ErrInvalidOperation, name)
	}
	return fmt.Sprintf(template, name), nil
}

// Savepoint establishes a named savepoint. On engines without savepoint
// support it is a no-op, so callers can structure nested work uniformly.
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	if !t.m.facts.SupportsSavepoints {
		return nil
	}
	stmt, err := t.savepointStmt(t.m.facts.SavepointTemplate, name)
	if err != nil {
		return err
	}
	_, err = t.ExecContext(ctx, stmt)
	return err
}

// RollbackToSavepoint rewinds the transaction to a named savepoint. A no-op
// on engines without savepoint support.
func (t *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	if !t.m.facts.SupportsSavepoints {
		return nil
	}
	stmt, err := t.savepointStmt(t.m.facts.SavepointRollbackTemplate, name)
	if err != nil {
		return err
	}
	_, err = t.ExecContext(ctx, stmt)
	return err
}

// ReleaseSavepoint discards a named savepoint. A no-op on engines without
// savepoint support or without a release statement.
func (t *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	if !t.m.facts.SupportsSavepoints || t.m.facts.SavepointReleaseTemplate == "" {
		return nil
	}
	stmt, err := t.savepointStmt(t.m.facts.SavepointReleaseTemplate, name)
	if err != nil {
		return err
	}
	_, err = t.ExecContext(ctx, stmt)
	return err
}

func (t *Tx) guard(et ExecutionType) error {
	switch t.state.Load() {
	case txRolledBack:
		return ErrTxRolledBack
	case txCommitted:
		return ErrAlreadyCompleted
	}
	if et == Write && t.readOnly {
		return fmt.Errorf("%w: write in a read-only transaction", ErrInvalidOperation)
	}
	return nil
}

// GetConnection satisfies the same acquisition contract as the manager, so
// execution code written against it works transactionally or not. Every
// request is answered with the transaction's pinned connection; on a shared
// persistent connection the handle skips the serialize lock the transaction
// already holds.
func (t *Tx) GetConnection(ctx context.Context, et ExecutionType, shared bool) (*Conn, error) {
	if err := t.guard(et); err != nil {
		return nil, err
	}
	if t.view != nil {
		return t.view, nil
	}
	return t.conn, nil
}

// ExecContext executes the query inside the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := t.guard(Write); err != nil {
		return nil, err
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	t.conn.observe(err)
	return res, err
}

// GetContext maps a single row result onto dest inside the transaction.
func (t *Tx) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := t.guard(Read); err != nil {
		return err
	}
	err := t.tx.GetContext(ctx, dest, query, args...)
	t.conn.observe(err)
	return err
}

// SelectContext scans each resultant row into dest inside the transaction.
func (t *Tx) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := t.guard(Read); err != nil {
		return err
	}
	err := t.tx.SelectContext(ctx, dest, query, args...)
	t.conn.observe(err)
	return err
}

// QueryxContext runs the query inside the transaction and returns the rows.
func (t *Tx) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	if err := t.guard(Read); err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryxContext(ctx, query, args...)
	t.conn.observe(err)
	return rows, err
}

// WithTx runs fn inside a transaction, committing on success and rolling back
// on error or panic.
func (m *Manager) WithTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx *Tx) error) (err error) {
	tx, err := m.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer tx.Close(ctx)
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
