package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

var ErrUnknownEngine = errors.New("unrecognized engine target")

// DetectTarget classifies a connection target without any I/O. The result is
// a best guess: a live probe (Detect) can refine it, most notably to tell
// CockroachDB apart from PostgreSQL.
func DetectTarget(target string) (Info, error) {
	switch {
	case strings.HasPrefix(target, "postgres://"), strings.HasPrefix(target, "postgresql://"):
		info := Info{Family: FamilyPostgres, Topology: Topology{ClientServer: true}}
		if u, err := url.Parse(target); err == nil && u.Port() == "26257" {
			// CockroachDB's conventional port. Confirmed by probe.
			info.Family = FamilyCockroach
		}
		return info, nil

	case strings.HasPrefix(target, "sqlserver://"):
		info := Info{Family: FamilySQLServer, Topology: Topology{ClientServer: true}}
		if u, err := url.Parse(target); err == nil {
			host := strings.ToLower(u.Host)
			if strings.HasPrefix(host, "(localdb)") || strings.HasPrefix(u.Path, "/(localdb)") {
				// LocalDB instances are spun up on demand and shut down when
				// idle, so they need a connection held open to stay warm.
				info.Topology = Topology{Embedded: true, UnloadsWhenIdle: true}
			}
		}
		return info, nil

	case isSQLiteTarget(target):
		return sqliteInfo(target), nil
	}

	// mysql DSNs have no scheme; let the driver's parser decide.
	if _, err := mysql.ParseDSN(target); err == nil {
		return Info{Family: FamilyMySQL, Topology: Topology{ClientServer: true}}, nil
	}

	return Info{Family: FamilyUnknown}, fmt.Errorf("%w: %q", ErrUnknownEngine, redactTarget(target))
}

func isSQLiteTarget(target string) bool {
	if target == ":memory:" || strings.HasPrefix(target, "file:") {
		return true
	}
	for _, suffix := range []string{".db", ".sqlite", ".sqlite3"} {
		if strings.HasSuffix(target, suffix) {
			return true
		}
	}
	return false
}

func sqliteInfo(target string) Info {
	info := Info{Family: FamilySQLite}
	memory := target == ":memory:" ||
		strings.Contains(target, ":memory:") ||
		strings.Contains(target, "mode=memory")
	if memory {
		info.Topology = Topology{
			Embedded:                true,
			InMemory:                true,
			SharedMemory:            strings.Contains(target, "cache=shared"),
			SingleWriterConstrained: true,
		}
		return info
	}
	info.Topology = Topology{
		Embedded:                true,
		SingleWriterConstrained: true,
	}
	return info
}

// redactTarget strips anything that might be a credential before a target
// string is put in an error.
func redactTarget(target string) string {
	if u, err := url.Parse(target); err == nil && u.User != nil {
		u.User = url.User("REDACTED")
		return u.String()
	}
	if i := strings.IndexByte(target, '@'); i >= 0 {
		return "REDACTED" + target[i:]
	}
	return target
}

var versionQueries = map[Family]string{
	FamilyPostgres:  `SELECT version()`,
	FamilyCockroach: `SELECT version()`,
	FamilyMySQL:     `SELECT VERSION()`,
	FamilySQLite:    `SELECT sqlite_version()`,
	FamilySQLServer: `SELECT @@VERSION`,
}

// Detect refines a target-based guess with a live probe. It never downgrades
// hint to unknown: on probe failure the hint is returned along with the error
// so lenient callers can continue with the static classification.
func Detect(ctx context.Context, db *sqlx.DB, hint Info) (Info, error) {
	query, ok := versionQueries[hint.Family]
	if !ok {
		return hint, fmt.Errorf("%w: no probe for family %s", ErrUnknownEngine, hint.Family)
	}

	var version string
	if err := db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return hint, fmt.Errorf("engine probe failed: %w", err)
	}
	hint.Version = version

	switch hint.Family {
	case FamilyPostgres:
		if strings.Contains(version, "CockroachDB") {
			hint.Family = FamilyCockroach
		}
	case FamilyCockroach:
		if !strings.Contains(version, "CockroachDB") {
			hint.Family = FamilyPostgres
		}
	}
	return hint, nil
}

// DetectCapabilities probes per-instance optimization facts. Families with no
// instance-level flags report zero capabilities and no error.
func DetectCapabilities(ctx context.Context, db *sqlx.DB, f Family) (Capabilities, error) {
	var caps Capabilities
	switch f {
	case FamilySQLite:
		var mode string
		if err := db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode); err != nil {
			return caps, fmt.Errorf("journal mode probe failed: %w", err)
		}
		caps.WALEnabled = strings.EqualFold(mode, "wal")
	case FamilySQLServer:
		var state int
		err := db.QueryRowContext(ctx,
			`SELECT snapshot_isolation_state FROM sys.databases WHERE name = DB_NAME()`).Scan(&state)
		if err != nil {
			return caps, fmt.Errorf("snapshot isolation probe failed: %w", err)
		}
		caps.SnapshotIsolationEnabled = state == 1
	}
	return caps, nil
}
