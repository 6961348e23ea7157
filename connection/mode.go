package connection

import (
	"fmt"

	"github.com/relaydata/dax/engine"
)

// Mode selects the connection strategy.
type Mode int

const (
	// ModeBest picks the safest high-concurrency mode for the detected
	// engine. It is resolved exactly once at construction; the resolved mode
	// is fixed for the manager's lifetime.
	ModeBest Mode = iota
	// ModeStandard gives every request a fresh connection from the engine
	// pool.
	ModeStandard
	// ModeKeepAlive behaves like Standard but additionally holds one
	// always-open sentinel connection so an idle local engine is not
	// unloaded.
	ModeKeepAlive
	// ModeSingleWriter routes all writes and all shared reads through one
	// pinned writer connection; ad-hoc reads get ephemeral read-only
	// connections.
	ModeSingleWriter
	// ModeSingleConnection serves every read and write from one physical
	// connection.
	ModeSingleConnection
)

func (m Mode) String() string {
	switch m {
	case ModeBest:
		return "best"
	case ModeStandard:
		return "standard"
	case ModeKeepAlive:
		return "keep_alive"
	case ModeSingleWriter:
		return "single_writer"
	case ModeSingleConnection:
		return "single_connection"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ModeDecision records how the effective mode was chosen, so operators can
// see why their requested mode did not take effect.
type ModeDecision struct {
	Requested Mode
	Resolved  Mode
	// Coerced is true when the requested mode was unsafe for the engine and
	// had to be replaced.
	Coerced bool
	// Auto is true when the decision resolved ModeBest, as opposed to
	// overriding an explicit request.
	Auto   bool
	Reason string
}

// modeRule is one row of the coercion decision table, keyed on topology
// rather than on engine family so new engines only need their topology
// described.
type modeRule struct {
	name    string
	match   func(engine.Topology) bool
	allowed map[Mode]bool
	// auto is what ModeBest resolves to; forced replaces any disallowed
	// explicit request.
	auto   Mode
	forced Mode
}

var modeRules = []modeRule{
	{
		name:  "engine unloads when idle",
		match: func(t engine.Topology) bool { return t.UnloadsWhenIdle },
		// Nothing but KeepAlive keeps the instance warm, whatever the
		// request was.
		allowed: map[Mode]bool{ModeKeepAlive: true},
		auto:    ModeKeepAlive,
		forced:  ModeKeepAlive,
	},
	{
		name:  "strictly isolated in-memory database",
		match: func(t engine.Topology) bool { return t.InMemory && !t.SharedMemory },
		// Every connection would see its own empty database.
		allowed: map[Mode]bool{ModeSingleConnection: true},
		auto:    ModeSingleConnection,
		forced:  ModeSingleConnection,
	},
	{
		name:    "shared in-memory database",
		match:   func(t engine.Topology) bool { return t.InMemory && t.SharedMemory },
		allowed: map[Mode]bool{ModeSingleWriter: true, ModeSingleConnection: true},
		auto:    ModeSingleWriter,
		forced:  ModeSingleWriter,
	},
	{
		name:    "embedded single-writer engine",
		match:   func(t engine.Topology) bool { return t.SingleWriterConstrained },
		allowed: map[Mode]bool{ModeSingleWriter: true, ModeSingleConnection: true},
		auto:    ModeSingleWriter,
		forced:  ModeSingleWriter,
	},
	{
		name:  "client-server engine",
		match: func(engine.Topology) bool { return true },
		// Every mode is technically safe; the less functional ones are
		// honored for testing.
		allowed: map[Mode]bool{
			ModeStandard: true, ModeKeepAlive: true,
			ModeSingleWriter: true, ModeSingleConnection: true,
		},
		auto:   ModeStandard,
		forced: ModeStandard,
	},
}

// resolveMode computes the safe effective mode for a requested mode on a
// detected engine. It always resolves to some safe mode; it never fails.
func resolveMode(requested Mode, info engine.Info) ModeDecision {
	for _, rule := range modeRules {
		if !rule.match(info.Topology) {
			continue
		}
		if requested == ModeBest {
			return ModeDecision{
				Requested: requested,
				Resolved:  rule.auto,
				Auto:      true,
				Reason:    rule.name,
			}
		}
		if rule.allowed[requested] {
			return ModeDecision{
				Requested: requested,
				Resolved:  requested,
				Reason:    rule.name,
			}
		}
		return ModeDecision{
			Requested: requested,
			Resolved:  rule.forced,
			Coerced:   true,
			Reason:    rule.name,
		}
	}
	// Unreachable: the last rule matches every topology.
	return ModeDecision{Requested: requested, Resolved: ModeStandard}
}
