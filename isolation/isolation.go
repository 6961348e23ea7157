// Package isolation maps abstract isolation profiles onto the concrete
// levels each engine family actually supports.
//
// A profile names a requirement ("safe non-blocking reads") without naming
// any engine's level. Resolution is pure per-call data lookup; the per-family
// tables are declarative and independently testable.
package isolation

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/relaydata/dax/engine"
)

// Profile is an abstract isolation requirement.
type Profile int

const (
	// ProfileDefault asks for the engine's preferred general-purpose level.
	ProfileDefault Profile = iota
	// ProfileDirtyReads tolerates uncommitted data, for monitoring-style
	// reads that must never block writers.
	ProfileDirtyReads
	// ProfileNonBlockingReads wants committed data without readers blocking
	// writers or vice versa. On engines where that needs a snapshot-style
	// optimization, resolution degrades when the instance lacks it.
	ProfileNonBlockingReads
	// ProfileRepeatableReads wants a stable view of rows already read.
	ProfileRepeatableReads
	// ProfileStrictConsistency wants the strongest serializable-class level.
	ProfileStrictConsistency
)

func (p Profile) String() string {
	switch p {
	case ProfileDefault:
		return "default"
	case ProfileDirtyReads:
		return "dirty_reads"
	case ProfileNonBlockingReads:
		return "non_blocking_reads"
	case ProfileRepeatableReads:
		return "repeatable_reads"
	case ProfileStrictConsistency:
		return "strict_consistency"
	}
	return fmt.Sprintf("profile(%d)", int(p))
}

var (
	// ErrProfileNotSupported means the engine family has no mapping for the
	// requested profile: the profile is structurally incompatible, not merely
	// degraded.
	ErrProfileNotSupported = errors.New("isolation profile not supported by engine")
	// ErrInvalidIsolation means an explicit level lies outside the engine's
	// supported set.
	ErrInvalidIsolation = errors.New("isolation level not supported by engine")
)

// Resolution is the outcome of resolving a profile: the concrete level, and
// whether resolution had to fall back because the instance lacks the
// optimization the profile's preferred level needs.
type Resolution struct {
	Profile  Profile
	Level    sql.IsolationLevel
	Degraded bool
}

// capability names an instance fact a mapping may depend on.
type capability int

const (
	capNone capability = iota
	capSnapshot
	capWAL
)

// mapping is one row of a family's profile table.
type mapping struct {
	level sql.IsolationLevel
	// requires names the instance capability level depends on. When the
	// capability is absent the resolution falls back to fallback and is
	// marked degraded. fallback may equal level: the level still applies but
	// without the optimization (SQLite without WAL).
	requires capability
	fallback sql.IsolationLevel
}

type familyTable struct {
	supported []sql.IsolationLevel
	profiles  map[Profile]mapping
}

var tables = map[engine.Family]familyTable{
	engine.FamilyPostgres: {
		supported: []sql.IsolationLevel{
			sql.LevelReadCommitted, sql.LevelRepeatableRead, sql.LevelSerializable,
		},
		profiles: map[Profile]mapping{
			ProfileDefault: {level: sql.LevelReadCommitted},
			// Postgres floors read-uncommitted to read-committed anyway.
			ProfileDirtyReads:        {level: sql.LevelReadCommitted},
			ProfileNonBlockingReads:  {level: sql.LevelReadCommitted},
			ProfileRepeatableReads:   {level: sql.LevelRepeatableRead},
			ProfileStrictConsistency: {level: sql.LevelSerializable},
		},
	},
	engine.FamilyMySQL: {
		supported: []sql.IsolationLevel{
			sql.LevelReadUncommitted, sql.LevelReadCommitted,
			sql.LevelRepeatableRead, sql.LevelSerializable,
		},
		profiles: map[Profile]mapping{
			ProfileDefault:           {level: sql.LevelRepeatableRead},
			ProfileDirtyReads:        {level: sql.LevelReadUncommitted},
			ProfileNonBlockingReads:  {level: sql.LevelReadCommitted},
			ProfileRepeatableReads:   {level: sql.LevelRepeatableRead},
			ProfileStrictConsistency: {level: sql.LevelSerializable},
		},
	},
	engine.FamilySQLite: {
		supported: []sql.IsolationLevel{
			sql.LevelReadUncommitted, sql.LevelSerializable,
		},
		profiles: map[Profile]mapping{
			ProfileDefault:    {level: sql.LevelSerializable},
			ProfileDirtyReads: {level: sql.LevelReadUncommitted},
			// Non-blocking reads on SQLite are a property of WAL journaling,
			// not of a weaker level. Without WAL the level is unchanged but
			// reads may block behind the writer.
			ProfileNonBlockingReads: {
				level:    sql.LevelSerializable,
				requires: capWAL,
				fallback: sql.LevelSerializable,
			},
			ProfileRepeatableReads:   {level: sql.LevelSerializable},
			ProfileStrictConsistency: {level: sql.LevelSerializable},
		},
	},
	engine.FamilySQLServer: {
		supported: []sql.IsolationLevel{
			sql.LevelReadUncommitted, sql.LevelReadCommitted,
			sql.LevelRepeatableRead, sql.LevelSnapshot, sql.LevelSerializable,
		},
		profiles: map[Profile]mapping{
			ProfileDefault:    {level: sql.LevelReadCommitted},
			ProfileDirtyReads: {level: sql.LevelReadUncommitted},
			ProfileNonBlockingReads: {
				level:    sql.LevelSnapshot,
				requires: capSnapshot,
				fallback: sql.LevelReadCommitted,
			},
			ProfileRepeatableReads:   {level: sql.LevelRepeatableRead},
			ProfileStrictConsistency: {level: sql.LevelSerializable},
		},
	},
	engine.FamilyCockroach: {
		supported: []sql.IsolationLevel{sql.LevelSerializable},
		profiles: map[Profile]mapping{
			// Serializable-only: every compatible profile maps to the one
			// level. Dirty reads are structurally impossible, so that
			// profile has no mapping at all.
			ProfileDefault:           {level: sql.LevelSerializable},
			ProfileNonBlockingReads:  {level: sql.LevelSerializable},
			ProfileRepeatableReads:   {level: sql.LevelSerializable},
			ProfileStrictConsistency: {level: sql.LevelSerializable},
		},
	},
	engine.FamilyUnknown: {
		supported: []sql.IsolationLevel{sql.LevelReadCommitted, sql.LevelSerializable},
		profiles: map[Profile]mapping{
			ProfileDefault:           {level: sql.LevelReadCommitted},
			ProfileNonBlockingReads:  {level: sql.LevelReadCommitted},
			ProfileRepeatableReads:   {level: sql.LevelSerializable},
			ProfileStrictConsistency: {level: sql.LevelSerializable},
		},
	},
}

// Resolver resolves profiles and validates levels for one engine instance.
// It is pure: resolution does no I/O and caches nothing.
type Resolver struct {
	family engine.Family
	caps   engine.Capabilities
	table  familyTable
}

func NewResolver(family engine.Family, caps engine.Capabilities) *Resolver {
	table, ok := tables[family]
	if !ok {
		table = tables[engine.FamilyUnknown]
	}
	return &Resolver{family: family, caps: caps, table: table}
}

// Resolve maps a profile to the family's concrete level.
func (r *Resolver) Resolve(p Profile) (sql.IsolationLevel, error) {
	res, err := r.ResolveWithDetail(p)
	return res.Level, err
}

// ResolveWithDetail resolves a profile and additionally reports whether the
// resolution is degraded: the profile's preferred level needs an optimization
// this instance does not have, and a fallback was used instead.
func (r *Resolver) ResolveWithDetail(p Profile) (Resolution, error) {
	m, ok := r.table.profiles[p]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s on %s", ErrProfileNotSupported, p, r.family)
	}
	res := Resolution{Profile: p, Level: m.level}
	if m.requires != capNone && !r.hasCapability(m.requires) {
		res.Level = m.fallback
		res.Degraded = true
	}
	return res, nil
}

func (r *Resolver) hasCapability(c capability) bool {
	switch c {
	case capSnapshot:
		return r.caps.SnapshotIsolationEnabled
	case capWAL:
		return r.caps.WALEnabled
	}
	return true
}

// Validate reports whether an explicit level lies inside the family's
// supported set.
func (r *Resolver) Validate(level sql.IsolationLevel) error {
	for _, l := range r.table.supported {
		if l == level {
			return nil
		}
	}
	return fmt.Errorf("%w: %s on %s", ErrInvalidIsolation, level, r.family)
}

// Supported returns the family's full supported level set.
func (r *Resolver) Supported() []sql.IsolationLevel {
	out := make([]sql.IsolationLevel, len(r.table.supported))
	copy(out, r.table.supported)
	return out
}

// DefaultLevel picks a level when the caller specifies neither profile nor
// level: read-committed when available, else serializable, else whatever the
// family has.
func (r *Resolver) DefaultLevel() sql.IsolationLevel {
	supported := r.table.supported
	for _, l := range supported {
		if l == sql.LevelReadCommitted {
			return l
		}
	}
	for _, l := range supported {
		if l == sql.LevelSerializable {
			return l
		}
	}
	return supported[0]
}
