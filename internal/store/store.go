package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventStore is the append-only event log.
type EventStore interface {
	// AppendEvent stores ev and returns it with its insertion ID assigned.
	AppendEvent(ctx context.Context, ev Event) (Event, error)

	// RecentEvents returns at most q.Limit events, most recent first, ordered by
	// timestamp and then by insertion order.
	RecentEvents(ctx context.Context, q EventQuery) ([]Event, error)
}

// SessionStore persists session records.
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) error
	UpdateSession(ctx context.Context, id, status string, endedAt *time.Time) error
	ListSessions(ctx context.Context, q SessionQuery) ([]Session, error)
}

// CredentialStore persists saved channel credentials keyed by channel name.
type CredentialStore interface {
	// UpsertCredential inserts c or replaces the row with the same channel name.
	// CreatedAt of an existing row is preserved.
	UpsertCredential(ctx context.Context, c ChannelCredential) error
	GetCredential(ctx context.Context, name string) (ChannelCredential, error)
	TouchCredential(ctx context.Context, name string, at time.Time) error
	// ListCredentials returns summaries, most recently used first.
	ListCredentials(ctx context.Context) ([]CredentialSummary, error)
}

// Store is the persistence abstraction behind the orchestrator.
// Implementations are safe for concurrent use.
type Store interface {
	EventStore
	SessionStore
	CredentialStore
	Close() error
}

var (
	// ErrNotFound is returned when a credential or session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPersistence classifies every failed read or write against a backend.
	ErrPersistence = errors.New("persistence error")

	// ErrDuplicate is returned when a session id is reused.
	ErrDuplicate = errors.New("already exists")
)

// PersistenceError wraps a backend failure with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// timeLayout is fixed width so text timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Open returns the backend selected by dsn:
//
//	postgres://… or postgresql://…  Postgres via pgxpool
//	memory or :memory:              in-process MemoryStore
//	sqlite://path or a plain path   SQLite file
func Open(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return nil, errors.New("store: empty DSN")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	case dsn == "memory", dsn == ":memory:":
		return NewMemoryStore(), nil
	default:
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	}
}
