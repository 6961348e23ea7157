package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/relaydata/dax/closer"
	"github.com/relaydata/dax/governor"
	"github.com/relaydata/dax/system"
)

// Ping verifies both roles' engines are reachable and answering queries.
func (m *Manager) Ping(ctx context.Context) (err error) {
	if m.writerDB == nil {
		return fmt.Errorf("%w: engine was not reachable at construction", ErrConnectionFailed)
	}
	if err := m.writerDB.PingContext(ctx); err != nil {
		return fmt.Errorf("writer ping failed: %w", err)
	}
	rows, err := m.writerDB.QueryContext(ctx, `SELECT 1`)
	if err != nil {
		return fmt.Errorf("writer probe query failed: %w", err)
	}
	defer closer.ErrorHandler(rows, &err)

	if m.readerDB != m.writerDB {
		if err := m.readerDB.PingContext(ctx); err != nil {
			return fmt.Errorf("reader ping failed: %w", err)
		}
	}
	return nil
}

// HealthCheck adapts a manager into the system package's health and metric
// producers.
type HealthCheck struct {
	Name    string
	Manager *Manager
}

func (h *HealthCheck) HealthChecks() (name string, ready, live func(ctx context.Context) error) {
	return h.Name, h.Manager.Ping, nil
}

func (h *HealthCheck) MetricName() string {
	return h.Name
}

func (h *HealthCheck) Gauges(_ context.Context) map[string]float64 {
	snap := h.Manager.Stats()
	gauges := map[string]float64{
		"open":      float64(snap.Open),
		"peak_open": float64(snap.PeakOpen),
		"created":   float64(snap.Created),
	}
	role := func(prefix string, s governor.Snapshot) {
		gauges[prefix+"in_use"] = float64(s.InUse)
		gauges[prefix+"peak_in_use"] = float64(s.Peak)
		gauges[prefix+"waits"] = float64(s.Waits)
		gauges[prefix+"wait_duration"] = float64(s.TotalWait / time.Millisecond)
	}
	role("writer_", snap.Writer)
	if !snap.Reader.Disabled && !snap.Reader.Shared {
		role("reader_", snap.Reader)
	}
	if db := h.Manager.writerDB; db != nil {
		stats := db.Stats()
		gauges["engine_in_use"] = float64(stats.InUse)
		gauges["engine_idle"] = float64(stats.Idle)
		gauges["engine_wait_count"] = float64(stats.WaitCount)
		gauges["engine_wait_duration"] = float64(stats.WaitDuration / time.Millisecond)
	}
	return gauges
}

// Load constructs a manager and registers its health check, metrics and
// cleanup with the system.
func Load(ctx context.Context, name string, cfg Config, sys *system.System) (*Manager, error) {
	if cfg.Name == "" {
		cfg.Name = name
	}
	m, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	check := &HealthCheck{Name: name + "-db", Manager: m}
	sys.AddMetrics(check)
	sys.AddHealthCheck(check)
	sys.AddCleanup(func(ctx context.Context) error {
		return m.Close(ctx)
	})

	return m, nil
}
