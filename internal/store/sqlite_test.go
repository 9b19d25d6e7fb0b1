package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, openTestSQLite)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	s, err := Open(ctx, "sqlite://"+path)
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, Event{Timestamp: time.Now(), SessionID: "s", Kind: KindInfo, Message: "persisted"})
	require.NoError(t, err)
	require.NoError(t, s.UpsertCredential(ctx, ChannelCredential{
		ChannelName: "c", ChannelID: "UC", AuthBlob: []byte{0, 1, 2}, CreatedAt: time.Now(), LastUsed: time.Now(),
	}))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	events, err := reopened.RecentEvents(ctx, EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "persisted", events[0].Message)

	cred, err := reopened.GetCredential(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, cred.AuthBlob)
}

func TestSQLiteStore_ClosedDatabaseIsPersistenceError(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.AppendEvent(ctx, Event{Timestamp: time.Now(), SessionID: "s", Kind: KindInfo, Message: "lost"})
	assert.ErrorIs(t, err, ErrPersistence)
}
