package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mediagate/pkg/metrics"
	"mediagate/pkg/types"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	KindAuthorize = "authorize"
	KindImport    = "import"
)

var ErrClosed = errors.New("session manager closed")

// Conn is an authenticated channel to one datacenter. A Conn is shared by
// every request routed to its datacenter and must be safe for concurrent use.
type Conn interface {
	Datacenter() types.DatacenterID
	// ResolveObject looks up an object's media payload
	ResolveObject(ctx context.Context, id types.ObjectID) (*types.RemoteObject, error)
	// ExportCredential issues a credential valid on another datacenter
	ExportCredential(ctx context.Context, to types.DatacenterID) ([]byte, error)
	// ReadChunk reads limit bytes at offset; fewer bytes come back only at the end of the object
	ReadChunk(ctx context.Context, desc types.ObjectDescriptor, offset, limit int64) ([]byte, error)
	Healthy() bool
	Close() error
}

// Dialer performs the handshakes that produce a Conn
type Dialer interface {
	// Authorize opens a session with the gateway's own credentials
	Authorize(ctx context.Context, dc types.DatacenterID) (Conn, error)
	// Import opens a session from a credential exported by another datacenter
	Import(ctx context.Context, dc types.DatacenterID, credential []byte) (Conn, error)
}

// Manager owns one live session per datacenter
type Manager struct {
	mu       sync.RWMutex
	sessions map[types.DatacenterID]*entry
	group    singleflight.Group
	closed   bool

	dialer           Dialer
	home             types.DatacenterID
	handshakeTimeout time.Duration
	logger           *zap.Logger
	metrics          *metrics.Metrics
}

type entry struct {
	conn     Conn
	kind     string
	created  time.Time
	useCount atomic.Int64
}

// Option configures a Manager
type Option func(*Manager)

// WithHandshakeTimeout bounds a single handshake, including credential export
func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.handshakeTimeout = d }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a new session manager for the given home datacenter
func NewManager(dialer Dialer, home types.DatacenterID, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		sessions:         make(map[types.DatacenterID]*entry),
		dialer:           dialer,
		home:             home,
		handshakeTimeout: 30 * time.Second,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HomeDatacenter returns the datacenter the gateway authorizes against directly
func (m *Manager) HomeDatacenter() types.DatacenterID {
	return m.home
}

// Home returns the session on the home datacenter
func (m *Manager) Home(ctx context.Context) (Conn, error) {
	return m.Acquire(ctx, m.home)
}

// Acquire returns the live session for dc, creating it on first use.
// Concurrent first requests for the same datacenter share one handshake.
// A failed handshake is not remembered; the next call tries again.
func (m *Manager) Acquire(ctx context.Context, dc types.DatacenterID) (Conn, error) {
	if dc <= 0 {
		dc = m.home
	}

	if conn, ok := m.lookup(dc); ok {
		return conn, nil
	}

	// The handshake outlives a cancelled caller: other requests may be
	// waiting on the same flight.
	ch := m.group.DoChan(dc.String(), func() (interface{}, error) {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.handshakeTimeout)
		defer cancel()
		return m.create(hctx, dc)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Conn), nil
	}
}

func (m *Manager) lookup(dc types.DatacenterID) (Conn, bool) {
	m.mu.RLock()
	e, ok := m.sessions[dc]
	m.mu.RUnlock()

	if !ok || !e.conn.Healthy() {
		return nil, false
	}
	e.useCount.Add(1)
	return e.conn, true
}

func (m *Manager) create(ctx context.Context, dc types.DatacenterID) (Conn, error) {
	// Check again: a flight for dc may have finished between lookup and DoChan
	if conn, ok := m.lookup(dc); ok {
		return conn, nil
	}

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	kind := KindAuthorize
	if dc != m.home {
		kind = KindImport
	}

	start := time.Now()
	conn, err := m.handshake(ctx, dc, kind)
	if err != nil {
		m.metrics.SessionFailed(int(dc), kind)
		m.logger.Warn("Session handshake failed",
			zap.Stringer("datacenter", dc),
			zap.String("kind", kind),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: datacenter %s: %w", types.ErrSession, dc, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return nil, ErrClosed
	}
	old := m.sessions[dc]
	e := &entry{conn: conn, kind: kind, created: time.Now()}
	e.useCount.Add(1)
	m.sessions[dc] = e
	m.mu.Unlock()

	if old != nil {
		m.logger.Info("Replacing unhealthy session", zap.Stringer("datacenter", dc))
		old.conn.Close()
		m.metrics.SessionClosed()
	}

	m.metrics.SessionOpened(int(dc), kind)
	m.logger.Info("Established datacenter session",
		zap.Stringer("datacenter", dc),
		zap.String("kind", kind),
		zap.Duration("elapsed", time.Since(start)))

	return conn, nil
}

func (m *Manager) handshake(ctx context.Context, dc types.DatacenterID, kind string) (Conn, error) {
	if kind == KindAuthorize {
		return m.dialer.Authorize(ctx, dc)
	}

	home, err := m.Acquire(ctx, m.home)
	if err != nil {
		return nil, fmt.Errorf("home session: %w", err)
	}

	credential, err := home.ExportCredential(ctx, dc)
	if err != nil {
		return nil, fmt.Errorf("export credential: %w", err)
	}

	m.logger.Debug("Exported credential",
		zap.Stringer("from", m.home),
		zap.Stringer("to", dc))

	return m.dialer.Import(ctx, dc, credential)
}

// ResolveObject looks up an object through the home session
func (m *Manager) ResolveObject(ctx context.Context, id types.ObjectID) (*types.RemoteObject, error) {
	conn, err := m.Home(ctx)
	if err != nil {
		return nil, err
	}
	return conn.ResolveObject(ctx, id)
}

// Invalidate drops the session for dc if it is still conn. The next
// Acquire performs a fresh handshake.
func (m *Manager) Invalidate(dc types.DatacenterID, conn Conn) {
	m.mu.Lock()
	e, ok := m.sessions[dc]
	if !ok || e.conn != conn {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, dc)
	m.mu.Unlock()

	e.conn.Close()
	m.metrics.SessionClosed()
	m.logger.Info("Invalidated datacenter session", zap.Stringer("datacenter", dc))
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Statistics returns per-datacenter session statistics
func (m *Manager) Statistics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make(map[string]interface{}, len(m.sessions))
	healthy := 0
	for dc, e := range m.sessions {
		ok := e.conn.Healthy()
		if ok {
			healthy++
		}
		sessions[dc.String()] = map[string]interface{}{
			"kind":     e.kind,
			"healthy":  ok,
			"uses":     e.useCount.Load(),
			"age_secs": int64(time.Since(e.created).Seconds()),
		}
	}

	return map[string]interface{}{
		"home_datacenter": int(m.home),
		"total":           len(m.sessions),
		"healthy":         healthy,
		"sessions":        sessions,
	}
}

// Close closes all sessions. Acquire fails with ErrClosed afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for dc, e := range m.sessions {
		if err := e.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("datacenter %s: %w", dc, err))
		}
		m.metrics.SessionClosed()
	}
	m.sessions = make(map[types.DatacenterID]*entry)

	return errors.Join(errs...)
}
