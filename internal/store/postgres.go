package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		video_file TEXT,
		stream_key TEXT,
		channel_name TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS events_timestamp_idx ON events (timestamp, id)`,
	`CREATE INDEX IF NOT EXISTS events_session_idx ON events (session_id, timestamp, id)`,
	`CREATE TABLE IF NOT EXISTS credentials (
		id BIGSERIAL PRIMARY KEY,
		channel_name TEXT UNIQUE NOT NULL,
		channel_id TEXT NOT NULL,
		auth_blob BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		last_used TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id BIGSERIAL PRIMARY KEY,
		session_id TEXT UNIQUE NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		video_file TEXT,
		status TEXT,
		ended_at TIMESTAMPTZ
	)`,
}

const pgUniqueViolation = "23505"

// PostgresStore is a Store backed by a pgx connection pool, for deployments
// that keep the audit trail in a shared database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to dsn, verifies the connection and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, wrapErr("parse postgres dsn", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "ytlive-orchestrator"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, wrapErr("connect postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapErr("ping postgres", err)
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, wrapErr("migrate postgres", err)
		}
	}
	return &PostgresStore{pool: pool}, nil
}

// AppendEvent implements EventStore.AppendEvent.
func (s *PostgresStore) AppendEvent(ctx context.Context, ev Event) (Event, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO events (timestamp, session_id, kind, message, video_file, stream_key, channel_name)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		ev.Timestamp.UTC(), ev.SessionID, string(ev.Kind), ev.Message,
		nullString(ev.VideoFile), nullString(ev.StreamKey), nullString(ev.ChannelName),
	).Scan(&ev.ID)
	return ev, wrapErr("append event", err)
}

// RecentEvents implements EventStore.RecentEvents.
func (s *PostgresStore) RecentEvents(ctx context.Context, q EventQuery) ([]Event, error) {
	query := `SELECT id, timestamp, session_id, kind, message, video_file, stream_key, channel_name FROM events`
	args := []any{}
	if q.SessionID != "" {
		args = append(args, q.SessionID)
		query += fmt.Sprintf(` WHERE session_id = $%d`, len(args))
	}
	args = append(args, q.limit())
	query += fmt.Sprintf(` ORDER BY timestamp DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("recent events", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev                  Event
			kind                string
			video, key, channel *string
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.SessionID, &kind, &ev.Message, &video, &key, &channel); err != nil {
			return nil, wrapErr("recent events", err)
		}
		ev.Kind = EventKind(kind)
		ev.VideoFile, ev.StreamKey, ev.ChannelName = deref(video), deref(key), deref(channel)
		out = append(out, ev)
	}
	return out, wrapErr("recent events", rows.Err())
}

// CreateSession implements SessionStore.CreateSession.
func (s *PostgresStore) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (session_id, start_time, video_file, status, ended_at) VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.StartTime.UTC(), nullString(sess.VideoFile), nullString(sess.Status), sess.EndedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("session %q: %w", sess.ID, ErrDuplicate)
	}
	return wrapErr("create session", err)
}

// UpdateSession implements SessionStore.UpdateSession.
func (s *PostgresStore) UpdateSession(ctx context.Context, id, status string, endedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, ended_at = COALESCE($2, ended_at) WHERE session_id = $3`,
		nullString(status), endedAt, id,
	)
	if err != nil {
		return wrapErr("update session", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions implements SessionStore.ListSessions.
func (s *PostgresStore) ListSessions(ctx context.Context, q SessionQuery) ([]Session, error) {
	query := `SELECT session_id, start_time, video_file, status, ended_at FROM sessions`
	if q.OpenOnly {
		query += ` WHERE ended_at IS NULL`
	}
	query += ` ORDER BY start_time DESC, id DESC`
	args := []any{}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += ` LIMIT $1`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list sessions", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess          Session
			video, status *string
		)
		if err := rows.Scan(&sess.ID, &sess.StartTime, &video, &status, &sess.EndedAt); err != nil {
			return nil, wrapErr("list sessions", err)
		}
		sess.VideoFile, sess.Status = deref(video), deref(status)
		out = append(out, sess)
	}
	return out, wrapErr("list sessions", rows.Err())
}

// UpsertCredential implements CredentialStore.UpsertCredential.
func (s *PostgresStore) UpsertCredential(ctx context.Context, c ChannelCredential) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credentials (channel_name, channel_id, auth_blob, created_at, last_used)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (channel_name) DO UPDATE SET
			channel_id = EXCLUDED.channel_id,
			auth_blob = EXCLUDED.auth_blob,
			last_used = EXCLUDED.last_used`,
		c.ChannelName, c.ChannelID, c.AuthBlob, c.CreatedAt.UTC(), c.LastUsed.UTC(),
	)
	return wrapErr("upsert credential", err)
}

// GetCredential implements CredentialStore.GetCredential.
func (s *PostgresStore) GetCredential(ctx context.Context, name string) (ChannelCredential, error) {
	var c ChannelCredential
	err := s.pool.QueryRow(ctx,
		`SELECT channel_name, channel_id, auth_blob, created_at, last_used FROM credentials WHERE channel_name = $1`,
		name,
	).Scan(&c.ChannelName, &c.ChannelID, &c.AuthBlob, &c.CreatedAt, &c.LastUsed)
	if errors.Is(err, pgx.ErrNoRows) {
		return ChannelCredential{}, ErrNotFound
	}
	if err != nil {
		return ChannelCredential{}, wrapErr("get credential", err)
	}
	return c, nil
}

// TouchCredential implements CredentialStore.TouchCredential.
func (s *PostgresStore) TouchCredential(ctx context.Context, name string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE credentials SET last_used = $1 WHERE channel_name = $2`, at.UTC(), name)
	if err != nil {
		return wrapErr("touch credential", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCredentials implements CredentialStore.ListCredentials.
func (s *PostgresStore) ListCredentials(ctx context.Context) ([]CredentialSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT channel_name, channel_id, created_at, last_used FROM credentials ORDER BY last_used DESC, channel_name ASC`)
	if err != nil {
		return nil, wrapErr("list credentials", err)
	}
	defer rows.Close()

	var out []CredentialSummary
	for rows.Next() {
		var c CredentialSummary
		if err := rows.Scan(&c.ChannelName, &c.ChannelID, &c.CreatedAt, &c.LastUsed); err != nil {
			return nil, wrapErr("list credentials", err)
		}
		out = append(out, c)
	}
	return out, wrapErr("list credentials", rows.Err())
}

// Close implements Store.Close.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
