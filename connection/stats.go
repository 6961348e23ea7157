package connection

import (
	"github.com/relaydata/dax/governor"
)

// Snapshot is a point-in-time view of the manager, safe to read without
// holding any manager lock.
type Snapshot struct {
	Name    string
	Engine  string
	Version string
	Mode    ModeDecision

	// Created counts every physical connection opened over the manager's
	// lifetime; Open and PeakOpen track currently live connections.
	Created  int64
	Open     int64
	PeakOpen int64

	Reader governor.Snapshot
	Writer governor.Snapshot
}

// Stats returns a snapshot of the manager and its governors.
func (m *Manager) Stats() Snapshot {
	return Snapshot{
		Name:     m.name,
		Engine:   m.info.Family.String(),
		Version:  m.info.Version,
		Mode:     m.decision,
		Created:  m.created.Load(),
		Open:     m.open.Load(),
		PeakOpen: m.peakOpen.Load(),
		Reader:   m.readGov.Stats(),
		Writer:   m.writeGov.Stats(),
	}
}

// OnStatsChange registers a handler called with a fresh snapshot whenever a
// connection is opened or closed. Handlers run on the goroutine that caused
// the change and must not call back into the manager; acquiring or releasing
// a connection from a handler deadlocks or recurses.
func (m *Manager) OnStatsChange(fn func(Snapshot)) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handlers = append(m.handlers, fn)
}

func (m *Manager) notifyStats() {
	m.handlerMu.Lock()
	handlers := make([]func(Snapshot), len(m.handlers))
	copy(handlers, m.handlers)
	m.handlerMu.Unlock()
	if len(handlers) == 0 {
		return
	}
	snap := m.Stats()
	for _, fn := range handlers {
		fn(snap)
	}
}
