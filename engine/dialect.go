package engine

// Facts are the per-family dialect facts consumed by the connection layer.
// They are declarative data; the risk they carry is staleness against real
// engine capability, not logic.
type Facts struct {
	// DriverName is the database/sql driver this family registers under.
	DriverName string

	// SessionSetup statements run once per physical connection, before it is
	// first handed out. Failures are non-fatal; the optimization is skipped.
	SessionSetup []string

	// SupportsSavepoints reports whether the family accepts savepoint
	// statements inside a transaction.
	SupportsSavepoints bool
	// SavepointTemplate, SavepointRollbackTemplate and SavepointReleaseTemplate
	// take the savepoint name as their only %s verb.
	SavepointTemplate         string
	SavepointRollbackTemplate string
	SavepointReleaseTemplate  string

	// SupportsReadOnlyTx reports whether the family honours an explicit
	// read-only transaction mode.
	SupportsReadOnlyTx bool

	// AcceptsTxIsolation reports whether BeginTx may be given an explicit
	// isolation level. Families where this is false silently use the provider
	// default while the resolved level is still recorded for reporting.
	AcceptsTxIsolation bool

	// UpgradesToSerializable is true for families that silently upgrade any
	// requested level to their sole serializable-class level.
	UpgradesToSerializable bool

	// MaxOpenSetting names the engine-side setting bounding concurrent
	// connections, for operator-facing events.
	MaxOpenSetting string
	// DefaultPoolSize is used when the caller does not configure a maximum.
	DefaultPoolSize int
}

var dialects = map[Family]Facts{
	FamilyPostgres: {
		DriverName:                "postgres",
		SessionSetup:              []string{`SET statement_timeout = 30000`},
		SupportsSavepoints:        true,
		SavepointTemplate:         `SAVEPOINT %s`,
		SavepointRollbackTemplate: `ROLLBACK TO SAVEPOINT %s`,
		SavepointReleaseTemplate:  `RELEASE SAVEPOINT %s`,
		SupportsReadOnlyTx:        true,
		AcceptsTxIsolation:        true,
		MaxOpenSetting:            "max_connections",
		DefaultPoolSize:           20,
	},
	FamilyCockroach: {
		DriverName:                "postgres",
		SupportsSavepoints:        true,
		SavepointTemplate:         `SAVEPOINT %s`,
		SavepointRollbackTemplate: `ROLLBACK TO SAVEPOINT %s`,
		SavepointReleaseTemplate:  `RELEASE SAVEPOINT %s`,
		SupportsReadOnlyTx:        true,
		AcceptsTxIsolation:        true,
		UpgradesToSerializable:    true,
		MaxOpenSetting:            "max_connections",
		DefaultPoolSize:           20,
	},
	FamilyMySQL: {
		DriverName:                "mysql",
		SessionSetup:              []string{`SET SESSION sql_mode = 'STRICT_ALL_TABLES'`},
		SupportsSavepoints:        true,
		SavepointTemplate:         `SAVEPOINT %s`,
		SavepointRollbackTemplate: `ROLLBACK TO SAVEPOINT %s`,
		SavepointReleaseTemplate:  `RELEASE SAVEPOINT %s`,
		SupportsReadOnlyTx:        true,
		AcceptsTxIsolation:        true,
		MaxOpenSetting:            "max_connections",
		DefaultPoolSize:           20,
	},
	FamilySQLite: {
		DriverName: "sqlite3",
		SessionSetup: []string{
			`PRAGMA foreign_keys = ON`,
			`PRAGMA busy_timeout = 5000`,
		},
		SupportsSavepoints:        true,
		SavepointTemplate:         `SAVEPOINT %s`,
		SavepointRollbackTemplate: `ROLLBACK TO %s`,
		SavepointReleaseTemplate:  `RELEASE %s`,
		// The sqlite3 driver rejects explicit isolation other than its
		// default, and has no server side read-only transaction mode.
		SupportsReadOnlyTx: false,
		AcceptsTxIsolation: false,
		MaxOpenSetting:     "",
		DefaultPoolSize:    4,
	},
	FamilySQLServer: {
		DriverName:                "sqlserver",
		SessionSetup:              []string{`SET LOCK_TIMEOUT 30000`},
		SupportsSavepoints:        true,
		SavepointTemplate:         `SAVE TRANSACTION %s`,
		SavepointRollbackTemplate: `ROLLBACK TRANSACTION %s`,
		// SQL Server has no release statement; savepoints vanish on commit.
		SavepointReleaseTemplate: "",
		SupportsReadOnlyTx:       false,
		AcceptsTxIsolation:       true,
		MaxOpenSetting:           "user connections",
		DefaultPoolSize:          20,
	},
	FamilyUnknown: {
		DriverName:         "",
		SupportsSavepoints: false,
		SupportsReadOnlyTx: false,
		AcceptsTxIsolation: false,
		DefaultPoolSize:    10,
	},
}

// Dialect returns the facts for a family. Unknown families get conservative
// defaults.
func Dialect(f Family) Facts {
	facts, ok := dialects[f]
	if !ok {
		return dialects[FamilyUnknown]
	}
	return facts
}
