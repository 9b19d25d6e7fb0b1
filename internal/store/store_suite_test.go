package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite exercises the behaviour every backend must share.
// Timestamps are truncated to microseconds so Postgres round-trips them exactly.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("events are returned newest first", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			_, err := s.AppendEvent(ctx, Event{
				Timestamp: base.Add(time.Duration(i) * time.Second),
				SessionID: "session_a",
				Kind:      KindInfo,
				Message:   fmt.Sprintf("event %d", i),
			})
			require.NoError(t, err)
		}

		got, err := s.RecentEvents(ctx, EventQuery{Limit: 3})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "event 4", got[0].Message)
		assert.Equal(t, "event 3", got[1].Message)
		assert.Equal(t, "event 2", got[2].Message)
		assert.True(t, got[0].Timestamp.Equal(base.Add(4*time.Second)))
	})

	t.Run("equal timestamps fall back to insertion order", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		first, err := s.AppendEvent(ctx, Event{Timestamp: base, SessionID: "s", Kind: KindInfo, Message: "first"})
		require.NoError(t, err)
		second, err := s.AppendEvent(ctx, Event{Timestamp: base, SessionID: "s", Kind: KindError, Message: "second"})
		require.NoError(t, err)
		assert.Greater(t, second.ID, first.ID)

		got, err := s.RecentEvents(ctx, EventQuery{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "second", got[0].Message)
		assert.Equal(t, KindError, got[0].Kind)
		assert.Equal(t, "first", got[1].Message)
	})

	t.Run("optional fields round trip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		_, err := s.AppendEvent(ctx, Event{
			Timestamp:   base,
			SessionID:   "s",
			Kind:        KindInfo,
			Message:     "live",
			VideoFile:   "clip.mp4",
			StreamKey:   "abcd-1234",
			ChannelName: "My Channel",
		})
		require.NoError(t, err)
		_, err = s.AppendEvent(ctx, Event{Timestamp: base.Add(time.Second), SessionID: "s", Kind: KindHeartbeat, Message: "alive"})
		require.NoError(t, err)

		got, err := s.RecentEvents(ctx, EventQuery{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Empty(t, got[0].VideoFile)
		assert.Empty(t, got[0].StreamKey)
		assert.Equal(t, "clip.mp4", got[1].VideoFile)
		assert.Equal(t, "abcd-1234", got[1].StreamKey)
		assert.Equal(t, "My Channel", got[1].ChannelName)
	})

	t.Run("events filter by session", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for i, id := range []string{"a", "b", "a", "b", "a"} {
			_, err := s.AppendEvent(ctx, Event{
				Timestamp: base.Add(time.Duration(i) * time.Second),
				SessionID: id,
				Kind:      KindEncoderOutput,
				Message:   fmt.Sprintf("%s-%d", id, i),
			})
			require.NoError(t, err)
		}

		got, err := s.RecentEvents(ctx, EventQuery{SessionID: "b"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "b-3", got[0].Message)
		assert.Equal(t, "b-1", got[1].Message)

		none, err := s.RecentEvents(ctx, EventQuery{SessionID: "missing"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("sessions are created updated and listed", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, Session{ID: "old", StartTime: base, VideoFile: "a.mp4", Status: "Provisioning"}))
		require.NoError(t, s.CreateSession(ctx, Session{ID: "new", StartTime: base.Add(time.Minute), VideoFile: "b.mp4", Status: "Provisioning"}))

		err := s.CreateSession(ctx, Session{ID: "old", StartTime: base})
		assert.True(t, errors.Is(err, ErrDuplicate), "got %v", err)

		ended := base.Add(2 * time.Minute)
		require.NoError(t, s.UpdateSession(ctx, "old", "Stopped", &ended))
		require.NoError(t, s.UpdateSession(ctx, "new", "Live", nil))
		assert.ErrorIs(t, s.UpdateSession(ctx, "ghost", "Live", nil), ErrNotFound)

		all, err := s.ListSessions(ctx, SessionQuery{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "new", all[0].ID)
		assert.Equal(t, "Live", all[0].Status)
		assert.Nil(t, all[0].EndedAt)
		assert.Equal(t, "old", all[1].ID)
		assert.Equal(t, "a.mp4", all[1].VideoFile)
		require.NotNil(t, all[1].EndedAt)
		assert.True(t, all[1].EndedAt.Equal(ended))

		openOnly, err := s.ListSessions(ctx, SessionQuery{OpenOnly: true})
		require.NoError(t, err)
		require.Len(t, openOnly, 1)
		assert.Equal(t, "new", openOnly[0].ID)

		limited, err := s.ListSessions(ctx, SessionQuery{Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "new", limited[0].ID)
	})

	t.Run("credential upsert replaces but keeps created_at", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		_, err := s.GetCredential(ctx, "Chan")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.UpsertCredential(ctx, ChannelCredential{
			ChannelName: "Chan", ChannelID: "UC1", AuthBlob: []byte("v1"), CreatedAt: base, LastUsed: base,
		}))
		later := base.Add(time.Hour)
		require.NoError(t, s.UpsertCredential(ctx, ChannelCredential{
			ChannelName: "Chan", ChannelID: "UC1", AuthBlob: []byte("v2"), CreatedAt: later, LastUsed: later,
		}))

		got, err := s.GetCredential(ctx, "Chan")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got.AuthBlob)
		assert.True(t, got.CreatedAt.Equal(base), "created_at %v", got.CreatedAt)
		assert.True(t, got.LastUsed.Equal(later), "last_used %v", got.LastUsed)
	})

	t.Run("credentials list by last use", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for i, name := range []string{"alpha", "beta", "gamma"} {
			at := base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, s.UpsertCredential(ctx, ChannelCredential{
				ChannelName: name, ChannelID: "UC-" + name, AuthBlob: []byte(name), CreatedAt: at, LastUsed: at,
			}))
		}
		require.NoError(t, s.TouchCredential(ctx, "alpha", base.Add(time.Hour)))
		assert.ErrorIs(t, s.TouchCredential(ctx, "nobody", base), ErrNotFound)

		got, err := s.ListCredentials(ctx)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "alpha", got[0].ChannelName)
		assert.Equal(t, "gamma", got[1].ChannelName)
		assert.Equal(t, "beta", got[2].ChannelName)
		assert.Equal(t, "UC-alpha", got[0].ChannelID)
	})
}
