package connection

import (
	"context"
	"sync"
)

// strategy decides which physical connection answers a request and how it is
// released. Variants are stateless except for the persistent connection the
// non-Standard ones hold.
type strategy interface {
	// acquire never returns a nil connection without an error.
	acquire(ctx context.Context, et ExecutionType, shared bool) (*Conn, error)
	// release is safe against double release.
	release(ctx context.Context, c *Conn)
	// warmUp opens any persistent connection the strategy needs.
	warmUp(ctx context.Context) error
	close(ctx context.Context) error
}

// standardStrategy: every request gets a fresh connection from the engine
// pool, released back to it afterwards. No persistent state.
type standardStrategy struct {
	m *Manager
}

func (s *standardStrategy) acquire(ctx context.Context, et ExecutionType, shared bool) (*Conn, error) {
	return s.m.openConn(ctx, et, connOpts{
		readOnly: et == Read,
		shared:   shared,
	})
}

func (s *standardStrategy) release(ctx context.Context, c *Conn) {
	_ = c.destroy(ctx)
}

func (s *standardStrategy) warmUp(context.Context) error { return nil }

func (s *standardStrategy) close(context.Context) error { return nil }

// keepAliveStrategy holds one always-open sentinel connection so an idle
// local engine is not unloaded, but routes real work through ephemeral
// connections exactly like Standard.
type keepAliveStrategy struct {
	m *Manager

	mu       sync.Mutex
	sentinel *Conn
}

func (s *keepAliveStrategy) ensureSentinel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sentinel != nil && !s.sentinel.closed.Load() && !s.sentinel.Broken() {
		return nil
	}
	if s.sentinel != nil {
		_ = s.sentinel.destroy(ctx)
	}
	// The sentinel does no work: it holds no permit so it does not consume
	// pool capacity.
	c, err := s.m.openConn(ctx, Write, connOpts{persistent: true, noPermit: true})
	if err != nil {
		return err
	}
	s.sentinel = c
	return nil
}

func (s *keepAliveStrategy) acquire(ctx context.Context, et ExecutionType, shared bool) (*Conn, error) {
	if err := s.ensureSentinel(ctx); err != nil {
		return nil, err
	}
	return s.m.openConn(ctx, et, connOpts{
		readOnly: et == Read,
		shared:   shared,
	})
}

func (s *keepAliveStrategy) release(ctx context.Context, c *Conn) {
	if c.persistent {
		// The sentinel is never closed by a release.
		return
	}
	_ = c.destroy(ctx)
}

func (s *keepAliveStrategy) warmUp(ctx context.Context) error {
	return s.ensureSentinel(ctx)
}

func (s *keepAliveStrategy) close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sentinel == nil {
		return nil
	}
	err := s.sentinel.destroy(ctx)
	s.sentinel = nil
	return err
}

// singleWriterStrategy pins one writer connection which serves all writes
// and all shared reads. Ad-hoc non-shared reads get ephemeral read-only
// connections, so a write attempted on anything but the pinned writer is
// rejected by the handle itself.
type singleWriterStrategy struct {
	m *Manager

	mu     sync.Mutex
	writer *Conn
}

func (s *singleWriterStrategy) pinnedWriter(ctx context.Context) (*Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil && !s.writer.closed.Load() && !s.writer.Broken() {
		return s.writer, nil
	}
	if s.writer != nil {
		_ = s.writer.destroy(ctx)
	}
	c, err := s.m.openConn(ctx, Write, connOpts{
		persistent: true,
		shared:     true,
		serialize:  &s.m.writeMu,
	})
	if err != nil {
		return nil, err
	}
	s.writer = c
	return c, nil
}

func (s *singleWriterStrategy) acquire(ctx context.Context, et ExecutionType, shared bool) (*Conn, error) {
	if et == Write || shared {
		return s.pinnedWriter(ctx)
	}
	return s.m.openConn(ctx, Read, connOpts{readOnly: true})
}

func (s *singleWriterStrategy) release(ctx context.Context, c *Conn) {
	if c.persistent {
		// The pinned writer outlives any one caller.
		return
	}
	_ = c.destroy(ctx)
}

func (s *singleWriterStrategy) warmUp(ctx context.Context) error {
	_, err := s.pinnedWriter(ctx)
	return err
}

func (s *singleWriterStrategy) close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return nil
	}
	err := s.writer.destroy(ctx)
	s.writer = nil
	return err
}

// singleConnStrategy serves every read and write from one physical
// connection; release is a no-op until the manager is closed.
type singleConnStrategy struct {
	m *Manager

	mu   sync.Mutex
	conn *Conn
}

func (s *singleConnStrategy) only(ctx context.Context) (*Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && !s.conn.closed.Load() && !s.conn.Broken() {
		return s.conn, nil
	}
	if s.conn != nil {
		_ = s.conn.destroy(ctx)
	}
	c, err := s.m.openConn(ctx, Write, connOpts{
		persistent: true,
		shared:     true,
		serialize:  &s.m.writeMu,
	})
	if err != nil {
		return nil, err
	}
	s.conn = c
	return c, nil
}

func (s *singleConnStrategy) acquire(ctx context.Context, _ ExecutionType, _ bool) (*Conn, error) {
	return s.only(ctx)
}

func (s *singleConnStrategy) release(context.Context, *Conn) {}

func (s *singleConnStrategy) warmUp(ctx context.Context) error {
	_, err := s.only(ctx)
	return err
}

func (s *singleConnStrategy) close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.destroy(ctx)
	s.conn = nil
	return err
}
