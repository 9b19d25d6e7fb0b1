package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
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
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_name TEXT UNIQUE NOT NULL,
		channel_id TEXT NOT NULL,
		auth_blob BLOB NOT NULL,
		created_at TEXT NOT NULL,
		last_used TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT UNIQUE NOT NULL,
		start_time TEXT NOT NULL,
		video_file TEXT,
		status TEXT,
		ended_at TEXT
	)`,
}

// SQLiteStore is the default durable Store, a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the SQLite database at path and
// ensures the schema exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite: empty path")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := "file:" + path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapErr("open sqlite", err)
	}
	// One connection serializes writers; readers wait behind short inserts.
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, wrapErr("migrate sqlite", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// AppendEvent implements EventStore.AppendEvent.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev Event) (Event, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (timestamp, session_id, kind, message, video_file, stream_key, channel_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		formatTime(ev.Timestamp), ev.SessionID, string(ev.Kind), ev.Message,
		nullString(ev.VideoFile), nullString(ev.StreamKey), nullString(ev.ChannelName),
	)
	if err != nil {
		return ev, wrapErr("append event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ev, wrapErr("append event", err)
	}
	ev.ID = id
	return ev, nil
}

// RecentEvents implements EventStore.RecentEvents.
func (s *SQLiteStore) RecentEvents(ctx context.Context, q EventQuery) ([]Event, error) {
	query := `SELECT id, timestamp, session_id, kind, message, video_file, stream_key, channel_name FROM events`
	args := []any{}
	if q.SessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, q.SessionID)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, q.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("recent events", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev                  Event
			ts, kind            string
			video, key, channel sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ts, &ev.SessionID, &kind, &ev.Message, &video, &key, &channel); err != nil {
			return nil, wrapErr("recent events", err)
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, wrapErr("recent events", err)
		}
		ev.Kind = EventKind(kind)
		ev.VideoFile, ev.StreamKey, ev.ChannelName = video.String, key.String, channel.String
		out = append(out, ev)
	}
	return out, wrapErr("recent events", rows.Err())
}

// CreateSession implements SessionStore.CreateSession.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess Session) error {
	var ended any
	if sess.EndedAt != nil {
		ended = formatTime(*sess.EndedAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, start_time, video_file, status, ended_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, formatTime(sess.StartTime), nullString(sess.VideoFile), nullString(sess.Status), ended,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("session %q: %w", sess.ID, ErrDuplicate)
	}
	return wrapErr("create session", err)
}

// UpdateSession implements SessionStore.UpdateSession.
func (s *SQLiteStore) UpdateSession(ctx context.Context, id, status string, endedAt *time.Time) error {
	var ended any
	if endedAt != nil {
		ended = formatTime(*endedAt)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = COALESCE(?, ended_at) WHERE session_id = ?`,
		nullString(status), ended, id,
	)
	if err != nil {
		return wrapErr("update session", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions implements SessionStore.ListSessions.
func (s *SQLiteStore) ListSessions(ctx context.Context, q SessionQuery) ([]Session, error) {
	query := `SELECT session_id, start_time, video_file, status, ended_at FROM sessions`
	if q.OpenOnly {
		query += ` WHERE ended_at IS NULL`
	}
	query += ` ORDER BY start_time DESC, id DESC`
	args := []any{}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list sessions", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess                 Session
			start                string
			video, status, ended sql.NullString
		)
		if err := rows.Scan(&sess.ID, &start, &video, &status, &ended); err != nil {
			return nil, wrapErr("list sessions", err)
		}
		if sess.StartTime, err = parseTime(start); err != nil {
			return nil, wrapErr("list sessions", err)
		}
		sess.VideoFile, sess.Status = video.String, status.String
		if ended.Valid {
			at, err := parseTime(ended.String)
			if err != nil {
				return nil, wrapErr("list sessions", err)
			}
			sess.EndedAt = &at
		}
		out = append(out, sess)
	}
	return out, wrapErr("list sessions", rows.Err())
}

// UpsertCredential implements CredentialStore.UpsertCredential.
func (s *SQLiteStore) UpsertCredential(ctx context.Context, c ChannelCredential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (channel_name, channel_id, auth_blob, created_at, last_used)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (channel_name) DO UPDATE SET
			channel_id = excluded.channel_id,
			auth_blob = excluded.auth_blob,
			last_used = excluded.last_used`,
		c.ChannelName, c.ChannelID, c.AuthBlob, formatTime(c.CreatedAt), formatTime(c.LastUsed),
	)
	return wrapErr("upsert credential", err)
}

// GetCredential implements CredentialStore.GetCredential.
func (s *SQLiteStore) GetCredential(ctx context.Context, name string) (ChannelCredential, error) {
	var (
		c                 ChannelCredential
		created, lastUsed string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT channel_name, channel_id, auth_blob, created_at, last_used FROM credentials WHERE channel_name = ?`,
		name,
	).Scan(&c.ChannelName, &c.ChannelID, &c.AuthBlob, &created, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return ChannelCredential{}, ErrNotFound
	}
	if err != nil {
		return ChannelCredential{}, wrapErr("get credential", err)
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return ChannelCredential{}, wrapErr("get credential", err)
	}
	if c.LastUsed, err = parseTime(lastUsed); err != nil {
		return ChannelCredential{}, wrapErr("get credential", err)
	}
	return c, nil
}

// TouchCredential implements CredentialStore.TouchCredential.
func (s *SQLiteStore) TouchCredential(ctx context.Context, name string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE credentials SET last_used = ? WHERE channel_name = ?`, formatTime(at), name)
	if err != nil {
		return wrapErr("touch credential", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCredentials implements CredentialStore.ListCredentials.
func (s *SQLiteStore) ListCredentials(ctx context.Context) ([]CredentialSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_name, channel_id, created_at, last_used FROM credentials ORDER BY last_used DESC, channel_name ASC`)
	if err != nil {
		return nil, wrapErr("list credentials", err)
	}
	defer rows.Close()

	var out []CredentialSummary
	for rows.Next() {
		var (
			c                 CredentialSummary
			created, lastUsed string
		)
		if err := rows.Scan(&c.ChannelName, &c.ChannelID, &created, &lastUsed); err != nil {
			return nil, wrapErr("list credentials", err)
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, wrapErr("list credentials", err)
		}
		if c.LastUsed, err = parseTime(lastUsed); err != nil {
			return nil, wrapErr("list credentials", err)
		}
		out = append(out, c)
	}
	return out, wrapErr("list credentials", rows.Err())
}

// Close implements Store.Close.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
