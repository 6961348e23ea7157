package connection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"               // PostgreSQL / CockroachDB driver
	_ "github.com/mattn/go-sqlite3"     // SQLite driver
	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/relaydata/dax/config/secret"
	"github.com/relaydata/dax/engine"
	"github.com/relaydata/dax/governor"
	"github.com/relaydata/dax/isolation"
	"github.com/relaydata/dax/o11y"
)

// Access restricts the roles a manager serves.
type Access int

const (
	ReadWrite Access = iota
	ReadOnly
	WriteOnly
)

type Config struct {
	// Name identifies this manager in metrics and health checks.
	Name string

	// WriterTarget is the connection target for writes, and for reads unless
	// ReaderTarget is set.
	WriterTarget string
	// ReaderTarget optionally routes reads elsewhere: a replica, or the same
	// server under a credential-restricted login.
	ReaderTarget string
	// Password and ReaderPassword are injected into the targets at open
	// time, so configured targets stay safe to log.
	Password       secret.String
	ReaderPassword secret.String

	// Mode requests a connection mode. The effective mode is computed once
	// at construction from the detected engine; see ModeDecision.
	Mode Mode
	// Access restricts the manager to one role.
	Access Access

	// MaxReaders and MaxWriters bound concurrently-live connections per
	// role. Zero means the engine dialect's default.
	MaxReaders int
	MaxWriters int
	// PoolTimeout bounds how long an acquisition waits for pool capacity.
	PoolTimeout time.Duration

	// Lenient construction tolerates an unrecognized engine or a failed
	// probe: the manager is built without a live probe connection and
	// failure is deferred to first real use.
	Lenient bool
	// SkipProbe disables the live engine probe at construction.
	SkipProbe bool

	// Capabilities overrides probed per-instance facts.
	Capabilities *engine.Capabilities
	// SessionSetup overrides the dialect's per-connection setup statements.
	SessionSetup []string
	// StmtCacheSize bounds the per-connection prepared statement cache.
	// Zero means 64.
	StmtCacheSize int
}

// Manager owns the configuration, the detected engine, the effective
// connection mode, and the strategy + governors + resolver wired up from
// them. It exposes connection acquisition and release plus a transaction
// factory.
type Manager struct {
	name  string
	cfg   Config
	info  engine.Info
	facts engine.Facts
	caps  engine.Capabilities

	decision ModeDecision
	resolver *isolation.Resolver

	readerDB *sqlx.DB
	writerDB *sqlx.DB

	readGov  *governor.Governor
	writeGov *governor.Governor

	strat strategy

	// writeMu serializes statements on the shared persistent connection in
	// SingleWriter and SingleConnection modes.
	writeMu sync.Mutex

	stmtCacheSize int

	nextID   atomic.Int64
	created  atomic.Int64
	open     atomic.Int64
	peakOpen atomic.Int64

	handlerMu sync.Mutex
	handlers  []func(Snapshot)

	closed atomic.Bool
}

// sqlOpen is a seam so tests can swap in a fake driver.
var sqlOpen = sqlx.Open

// New constructs a manager: it detects the target engine, resolves the
// effective connection mode, wires up the strategy, governors and isolation
// resolver, and opens persistent connections for persistent modes.
func New(ctx context.Context, cfg Config) (m *Manager, err error) {
	ctx, span := o11y.StartSpan(ctx, "connection: new manager")
	defer o11y.End(span, &err)

	if cfg.Name == "" {
		cfg.Name = "db"
	}
	if cfg.ReaderTarget == "" {
		cfg.ReaderTarget = cfg.WriterTarget
		if cfg.ReaderPassword == "" {
			cfg.ReaderPassword = cfg.Password
		}
	}
	if cfg.StmtCacheSize <= 0 {
		cfg.StmtCacheSize = 64
	}
	if cfg.WriterTarget == "" {
		return nil, fmt.Errorf("%w: no writer target configured", ErrConnectionFailed)
	}

	m = &Manager{
		name:          cfg.Name,
		cfg:           cfg,
		stmtCacheSize: cfg.StmtCacheSize,
	}

	info, detectErr := engine.DetectTarget(cfg.WriterTarget)
	if detectErr != nil && !cfg.Lenient {
		return nil, detectErr
	}
	if detectErr != nil {
		o11y.LogError(ctx, "connection: engine detection deferred", o11y.NewWarning(detectErr.Error()))
	}
	m.info = info
	m.facts = engine.Dialect(info.Family)

	if err := m.openDatabases(ctx); err != nil {
		if !cfg.Lenient {
			return nil, err
		}
		o11y.LogError(ctx, "connection: open deferred", o11y.NewWarning(err.Error()))
	}

	if err := m.probe(ctx); err != nil {
		if !cfg.Lenient {
			return nil, err
		}
		o11y.LogError(ctx, "connection: probe deferred", o11y.NewWarning(err.Error()))
	}

	if cfg.Capabilities != nil {
		m.caps = *cfg.Capabilities
	}
	m.resolver = isolation.NewResolver(m.info.Family, m.caps)

	m.decision = resolveMode(cfg.Mode, m.info)
	m.emitModeDecision(ctx)

	m.buildGovernors()
	m.applyPoolLimits()

	switch m.decision.Resolved {
	case ModeKeepAlive:
		m.strat = &keepAliveStrategy{m: m}
	case ModeSingleWriter:
		m.strat = &singleWriterStrategy{m: m}
	case ModeSingleConnection:
		m.strat = &singleConnStrategy{m: m}
	default:
		m.strat = &standardStrategy{m: m}
	}

	// Persistent modes open their connection eagerly; Standard opens per
	// call. A lenient manager defers even this to first use.
	if !cfg.Lenient {
		if err := m.strat.warmUp(ctx); err != nil {
			return nil, err
		}
	}

	span.AddRawField("engine", m.info.Family.String())
	span.AddRawField("mode", m.decision.Resolved.String())
	return m, nil
}

func (m *Manager) openDatabases(ctx context.Context) error {
	if m.facts.DriverName == "" {
		return fmt.Errorf("%w: no driver for engine %s", ErrConnectionFailed, m.info.Family)
	}
	writerTarget := finalizeTarget(m.cfg.WriterTarget, m.cfg.Password)
	db, err := sqlOpen(m.facts.DriverName, writerTarget)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrConnectionFailed, err)
	}
	m.writerDB = db

	if m.cfg.ReaderTarget == m.cfg.WriterTarget && m.cfg.ReaderPassword == m.cfg.Password {
		m.readerDB = db
		return nil
	}
	readerTarget := finalizeTarget(m.cfg.ReaderTarget, m.cfg.ReaderPassword)
	rdb, err := sqlOpen(m.facts.DriverName, readerTarget)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrConnectionFailed, err)
	}
	m.readerDB = rdb
	return nil
}

// probe refines target-based detection with a live connection. Version and
// capability probes are best-effort; only an unreachable engine is an error.
func (m *Manager) probe(ctx context.Context) error {
	if m.cfg.SkipProbe || m.writerDB == nil {
		return nil
	}
	if err := m.writerDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %s", ErrConnectionFailed, err)
	}
	info, err := engine.Detect(ctx, m.writerDB, m.info)
	if err != nil {
		o11y.LogError(ctx, "connection: version probe failed", o11y.NewWarning(err.Error()))
	}
	if info.Family != m.info.Family {
		// eg. a postgres target that turned out to be CockroachDB
		m.facts = engine.Dialect(info.Family)
	}
	m.info = info

	caps, err := engine.DetectCapabilities(ctx, m.writerDB, m.info.Family)
	if err != nil {
		o11y.LogError(ctx, "connection: capability probe failed", o11y.NewWarning(err.Error()))
		return nil
	}
	m.caps = caps
	return nil
}

func (m *Manager) emitModeDecision(ctx context.Context) {
	d := m.decision
	if !d.Coerced && !d.Auto {
		return
	}
	kind := "override"
	if d.Auto {
		kind = "auto"
	}
	o11y.Log(ctx, "connection: mode resolved",
		o11y.Field("requested_mode", d.Requested.String()),
		o11y.Field("resolved_mode", d.Resolved.String()),
		o11y.Field("decision", kind),
		o11y.Field("reason", d.Reason),
	)
}

func (m *Manager) buildGovernors() {
	readerCap := m.cfg.MaxReaders
	if readerCap <= 0 {
		readerCap = m.facts.DefaultPoolSize
	}
	writerCap := m.cfg.MaxWriters
	if writerCap <= 0 {
		writerCap = m.facts.DefaultPoolSize
	}
	m.readGov, m.writeGov = governor.NewPair(governor.PairConfig{
		ReaderCapacity:   readerCap,
		WriterCapacity:   writerCap,
		Timeout:          m.cfg.PoolTimeout,
		Share:            equivalentTargets(m.cfg.ReaderTarget, m.cfg.WriterTarget),
		WriterPinned:     m.decision.Resolved == ModeSingleWriter,
		SingleConnection: m.decision.Resolved == ModeSingleConnection,
	})
}

// applyPoolLimits aligns the engine-side pools underneath the governors.
func (m *Manager) applyPoolLimits() {
	limit := func(db *sqlx.DB, s governor.Snapshot) {
		if db == nil || s.Disabled {
			return
		}
		db.SetMaxOpenConns(int(s.Capacity) + 1) // +1 for a sentinel or probe
		db.SetMaxIdleConns(int(s.Capacity))
		db.SetConnMaxLifetime(time.Hour)
	}
	limit(m.writerDB, m.writeGov.Stats())
	if m.readerDB != m.writerDB {
		limit(m.readerDB, m.readGov.Stats())
	}
}

type connOpts struct {
	readOnly   bool
	shared     bool
	persistent bool
	// noPermit opens the connection outside pool capacity (the keep-alive
	// sentinel, which never does work).
	noPermit bool
	// serialize is attached to shared persistent connections.
	serialize *sync.Mutex
}

// openConn acquires a permit and then opens a tracked physical connection.
// The permit is attached to the handle and released exactly once when the
// handle is destroyed.
func (m *Manager) openConn(ctx context.Context, et ExecutionType, opts connOpts) (c *Conn, err error) {
	ctx, span := o11y.StartSpan(ctx, "connection: open")
	defer o11y.End(span, &err)
	span.RecordMetric(o11y.Timing("connection.open", "role", "result"))
	span.AddRawField("role", et.String())

	db := m.writerDB
	gov := m.writeGov
	if et == Read {
		db = m.readerDB
		gov = m.readGov
	}
	if db == nil {
		return nil, fmt.Errorf("%w: engine was not reachable at construction", ErrConnectionFailed)
	}

	var permit *governor.Permit
	if !opts.noPermit {
		permit, err = gov.Acquire(ctx)
		if err != nil {
			return nil, err
		}
	}

	cx, err := db.Connx(ctx)
	if err != nil {
		// A failed open must not leak the permit.
		permit.Release()
		return nil, fmt.Errorf("%w: %s", ErrConnectionFailed, err)
	}

	c = &Conn{
		id:         m.nextID.Add(1),
		m:          m,
		cx:         cx,
		readOnly:   opts.readOnly,
		shared:     opts.shared,
		persistent: opts.persistent,
		permit:     permit,
		holdStart:  time.Now(),
		serialize:  opts.serialize,
		stmts:      newStmtCache(m.stmtCacheSize),
	}
	m.created.Add(1)
	current := m.open.Add(1)
	for {
		peak := m.peakOpen.Load()
		if current <= peak || m.peakOpen.CompareAndSwap(peak, current) {
			break
		}
	}

	setup := m.sessionSetupStatements()
	c.applySessionSetup(ctx, setup)

	m.notifyStats()
	return c, nil
}

func (m *Manager) sessionSetupStatements() []string {
	if m.cfg.SessionSetup != nil {
		return m.cfg.SessionSetup
	}
	return m.facts.SessionSetup
}

func (m *Manager) connClosed(ctx context.Context) {
	m.open.Add(-1)
	m.notifyStats()
}

func (m *Manager) checkAccess(et ExecutionType) error {
	switch {
	case et == Write && m.cfg.Access == ReadOnly:
		return fmt.Errorf("%w: write on a read-only manager", ErrInvalidOperation)
	case et == Read && m.cfg.Access == WriteOnly:
		return fmt.Errorf("%w: read on a write-only manager", ErrInvalidOperation)
	}
	return nil
}

// GetConnection returns the connection that satisfies the request, per the
// active strategy. The handle must be given back with ReleaseConnection.
func (m *Manager) GetConnection(ctx context.Context, et ExecutionType, shared bool) (*Conn, error) {
	if m.closed.Load() {
		return nil, fmt.Errorf("%w: manager is closed", ErrInvalidOperation)
	}
	if err := m.checkAccess(et); err != nil {
		return nil, err
	}
	return m.strat.acquire(ctx, et, shared)
}

// ReleaseConnection gives a connection back to the strategy. Releasing a
// handle twice is safe.
func (m *Manager) ReleaseConnection(ctx context.Context, c *Conn) {
	if c == nil {
		return
	}
	m.strat.release(ctx, c)
}

// CloseAndDiscard destroys a connection regardless of the strategy: broken
// handles go through here so a fresh connection replaces them on the next
// acquisition.
func (m *Manager) CloseAndDiscard(ctx context.Context, c *Conn) error {
	if c == nil {
		return nil
	}
	return c.destroy(ctx)
}

// Discard is the non-blocking variant of CloseAndDiscard.
func (m *Manager) Discard(c *Conn) {
	if c == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.destroy(ctx); err != nil {
			o11y.LogError(ctx, "connection: discard failed", o11y.NewWarning(err.Error()))
		}
	}()
}

// Engine returns the detected engine info.
func (m *Manager) Engine() engine.Info { return m.info }

// ModeDecision returns how the effective mode was chosen.
func (m *Manager) ModeDecision() ModeDecision { return m.decision }

// Resolver returns the isolation resolver for the detected engine.
func (m *Manager) Resolver() *isolation.Resolver { return m.resolver }

// Close disposes the strategy's persistent connections and the underlying
// pools.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	errs := []error{m.strat.close(ctx)}
	if m.writerDB != nil {
		errs = append(errs, m.writerDB.Close())
	}
	if m.readerDB != nil && m.readerDB != m.writerDB {
		errs = append(errs, m.readerDB.Close())
	}
	return errors.Join(errs...)
}

// finalizeTarget injects a credential into a target so configured targets
// never carry a plaintext password.
func finalizeTarget(target string, pass secret.String) string {
	if pass == "" {
		return target
	}
	if u, err := url.Parse(target); err == nil && u.Scheme != "" && u.Scheme != "file" {
		user := ""
		if u.User != nil {
			user = u.User.Username()
		}
		u.User = url.UserPassword(user, pass.Raw())
		return u.String()
	}
	if dsn, err := mysql.ParseDSN(target); err == nil {
		dsn.Passwd = pass.Raw()
		return dsn.FormatDSN()
	}
	return target
}

// equivalentTargets reports whether two targets address the same database,
// ignoring credentials. Equivalent targets share one pool capacity instead
// of double-reserving against the same server.
func equivalentTargets(a, b string) bool {
	if a == b {
		return true
	}
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA == nil && errB == nil && ua.Scheme != "" && ua.Scheme == ub.Scheme {
		ua.User, ub.User = nil, nil
		return ua.String() == ub.String()
	}
	da, errA := mysql.ParseDSN(a)
	db, errB := mysql.ParseDSN(b)
	if errA == nil && errB == nil {
		da.User, da.Passwd = "", ""
		db.User, db.Passwd = "", ""
		return da.FormatDSN() == db.FormatDSN()
	}
	return strings.EqualFold(a, b)
}
