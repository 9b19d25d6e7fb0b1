// Package eventlog records session events and session records on top of a
// store, without letting persistence failures interrupt the caller.
package eventlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ytlive-orchestrator/internal/platform/logger"
	"ytlive-orchestrator/internal/platform/metrics"
	"ytlive-orchestrator/internal/store"
)

// Backend is the part of store.Store the recorder writes to.
type Backend interface {
	store.EventStore
	store.SessionStore
}

// Health is the persistence side channel: writes that failed since start.
type Health struct {
	Healthy       bool       `json:"healthy"`
	Failures      int64      `json:"failures"`
	LastError     string     `json:"last_error,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// Log is the single in-process writer of events. Timestamps it assigns never
// go backwards, and appends happen in timestamp order.
type Log struct {
	backend Backend
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu   sync.Mutex
	last time.Time

	healthMu      sync.RWMutex
	failures      int64
	lastErr       string
	lastFailureAt time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger used to report failed writes.
func WithLogger(l *slog.Logger) Option {
	return func(lg *Log) {
		if l != nil {
			lg.logger = l
		}
	}
}

// WithMetrics counts failed writes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(lg *Log) { lg.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(lg *Log) {
		if now != nil {
			lg.now = now
		}
	}
}

// New returns a Log writing to b.
func New(b Backend, opts ...Option) *Log {
	lg := &Log{
		backend: b,
		logger:  logger.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(lg)
	}
	lg.logger = logger.WithComponent(lg.logger, "eventlog")
	return lg
}

// Record appends ev with a fresh timestamp. A failed write is reported on the
// health signal and never returned. Cancellation of ctx does not drop the write.
func (l *Log) Record(ctx context.Context, ev store.Event) {
	ctx = context.WithoutCancel(ctx)

	l.mu.Lock()
	ts := l.now().UTC()
	if ts.Before(l.last) {
		ts = l.last
	}
	l.last = ts
	ev.Timestamp = ts
	_, err := l.backend.AppendEvent(ctx, ev)
	l.mu.Unlock()

	if err != nil {
		l.fail("append event", err, slog.String("session_id", ev.SessionID), slog.String("kind", string(ev.Kind)))
	}
}

// CreateSession persists a new session record, best effort.
func (l *Log) CreateSession(ctx context.Context, sess store.Session) {
	if err := l.backend.CreateSession(context.WithoutCancel(ctx), sess); err != nil {
		l.fail("create session", err, slog.String("session_id", sess.ID))
	}
}

// UpdateSession stores a status change, best effort. A non-nil endedAt closes the session.
func (l *Log) UpdateSession(ctx context.Context, id, status string, endedAt *time.Time) {
	if err := l.backend.UpdateSession(context.WithoutCancel(ctx), id, status, endedAt); err != nil {
		l.fail("update session", err, slog.String("session_id", id))
	}
}

// Recent returns stored events, most recent first.
func (l *Log) Recent(ctx context.Context, q store.EventQuery) ([]store.Event, error) {
	return l.backend.RecentEvents(ctx, q)
}

// Sessions returns stored session records, newest first.
func (l *Log) Sessions(ctx context.Context, q store.SessionQuery) ([]store.Session, error) {
	return l.backend.ListSessions(ctx, q)
}

// Health reports the persistence side channel.
func (l *Log) Health() Health {
	l.healthMu.RLock()
	defer l.healthMu.RUnlock()

	h := Health{Healthy: l.failures == 0, Failures: l.failures, LastError: l.lastErr}
	if !l.lastFailureAt.IsZero() {
		at := l.lastFailureAt
		h.LastFailureAt = &at
	}
	return h
}

func (l *Log) fail(op string, err error, attrs ...any) {
	l.healthMu.Lock()
	l.failures++
	l.lastErr = op + ": " + err.Error()
	l.lastFailureAt = l.now().UTC()
	l.healthMu.Unlock()

	l.metrics.IncPersistenceErrors()
	l.logger.Error("persistence failure", append([]any{slog.String("op", op), slog.Any("error", err)}, attrs...)...)
}
