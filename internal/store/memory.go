package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store. It does not survive
// restarts and is meant for tests and throwaway runs.
type MemoryStore struct {
	mu          sync.RWMutex
	events      []Event
	nextEventID int64
	sessions    map[string]Session
	sessionSeq  map[string]int
	credentials map[string]ChannelCredential
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]Session),
		sessionSeq:  make(map[string]int),
		credentials: make(map[string]ChannelCredential),
	}
}

// AppendEvent implements EventStore.AppendEvent.
func (s *MemoryStore) AppendEvent(_ context.Context, ev Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEventID++
	ev.ID = s.nextEventID
	s.events = append(s.events, ev)
	return ev, nil
}

// RecentEvents implements EventStore.RecentEvents.
func (s *MemoryStore) RecentEvents(_ context.Context, q EventQuery) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if q.SessionID != "" && ev.SessionID != q.SessionID {
			continue
		}
		matched = append(matched, ev)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})
	if limit := q.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// CreateSession implements SessionStore.CreateSession.
func (s *MemoryStore) CreateSession(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return ErrDuplicate
	}
	s.sessions[sess.ID] = sess
	s.sessionSeq[sess.ID] = len(s.sessionSeq)
	return nil
}

// UpdateSession implements SessionStore.UpdateSession.
func (s *MemoryStore) UpdateSession(_ context.Context, id, status string, endedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Status = status
	if endedAt != nil {
		at := *endedAt
		sess.EndedAt = &at
	}
	s.sessions[id] = sess
	return nil
}

// ListSessions implements SessionStore.ListSessions.
func (s *MemoryStore) ListSessions(_ context.Context, q SessionQuery) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if q.OpenOnly && sess.EndedAt != nil {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return s.sessionSeq[out[i].ID] > s.sessionSeq[out[j].ID]
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// UpsertCredential implements CredentialStore.UpsertCredential.
func (s *MemoryStore) UpsertCredential(_ context.Context, c ChannelCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.credentials[c.ChannelName]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	c.AuthBlob = append([]byte(nil), c.AuthBlob...)
	s.credentials[c.ChannelName] = c
	return nil
}

// GetCredential implements CredentialStore.GetCredential.
func (s *MemoryStore) GetCredential(_ context.Context, name string) (ChannelCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[name]
	if !ok {
		return ChannelCredential{}, ErrNotFound
	}
	c.AuthBlob = append([]byte(nil), c.AuthBlob...)
	return c, nil
}

// TouchCredential implements CredentialStore.TouchCredential.
func (s *MemoryStore) TouchCredential(_ context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[name]
	if !ok {
		return ErrNotFound
	}
	c.LastUsed = at
	s.credentials[name] = c
	return nil
}

// ListCredentials implements CredentialStore.ListCredentials.
func (s *MemoryStore) ListCredentials(_ context.Context) ([]CredentialSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CredentialSummary, 0, len(s.credentials))
	for _, c := range s.credentials {
		out = append(out, c.Summary())
	}
	sortCredentials(out)
	return out, nil
}

// Close implements Store.Close.
func (s *MemoryStore) Close() error { return nil }

func sortCredentials(items []CredentialSummary) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].LastUsed.Equal(items[j].LastUsed) {
			return items[i].LastUsed.After(items[j].LastUsed)
		}
		return items[i].ChannelName < items[j].ChannelName
	})
}
