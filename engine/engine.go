// Package engine models the database engines the connection layer can sit on
// top of: which family an engine belongs to, how it is deployed, and the
// per-family facts (dialect) the rest of the library consumes.
package engine

// Family identifies a database engine family.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyPostgres
	FamilyMySQL
	FamilySQLite
	FamilyCockroach
	FamilySQLServer
)

func (f Family) String() string {
	switch f {
	case FamilyPostgres:
		return "postgres"
	case FamilyMySQL:
		return "mysql"
	case FamilySQLite:
		return "sqlite"
	case FamilyCockroach:
		return "cockroachdb"
	case FamilySQLServer:
		return "sqlserver"
	}
	return "unknown"
}

// Topology captures deployment facts about an engine instance. The mode
// coercion rules key off these rather than off the family directly, so a new
// engine only needs its topology described to be governed safely.
type Topology struct {
	// ClientServer is true for engines reached over a network protocol with
	// their own server-side concurrency control.
	ClientServer bool
	// Embedded is true for engines running inside this process.
	Embedded bool
	// InMemory is true when the database lives only in process memory.
	InMemory bool
	// SharedMemory is true for in-memory databases visible to every
	// connection in the process (as opposed to strictly per-connection).
	SharedMemory bool
	// SingleWriterConstrained is true for engines that allow at most one
	// writer at a time and penalise concurrent write attempts with lock
	// contention.
	SingleWriterConstrained bool
	// UnloadsWhenIdle is true for local server instances that shut down when
	// no connection is held open against them.
	UnloadsWhenIdle bool
}

// Info is the result of engine detection.
type Info struct {
	Family   Family
	Version  string
	Topology Topology
}

// Capabilities are per-instance optimization facts, as opposed to per-family
// facts. They feed isolation degradation detection.
type Capabilities struct {
	// SnapshotIsolationEnabled reports whether the instance allows
	// snapshot-class isolation (ALLOW_SNAPSHOT_ISOLATION on SQL Server).
	SnapshotIsolationEnabled bool
	// WALEnabled reports whether a SQLite database uses write-ahead logging,
	// which is what makes its reads non-blocking.
	WALEnabled bool
}
