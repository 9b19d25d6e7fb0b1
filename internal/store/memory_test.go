package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendEvent(ctx, Event{Timestamp: now, SessionID: "s", Kind: KindInfo, Message: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.RecentEvents(ctx, EventQuery{Limit: 100})
	require.NoError(t, err)
	require.Len(t, got, 20)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i-1].ID, got[i].ID)
	}
}

func TestMemoryStore_CredentialBlobIsCopied(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	blob := []byte("token")
	require.NoError(t, s.UpsertCredential(ctx, ChannelCredential{ChannelName: "c", AuthBlob: blob}))
	blob[0] = 'X'

	got, err := s.GetCredential(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []byte("token"), got.AuthBlob)
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "memory")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(ctx, "  ")
	assert.Error(t, err)
}
