// Package credentials keeps authorized channel credentials and turns them
// into refreshing OAuth token sources.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ytlive-orchestrator/internal/store"
)

// ErrInvalidName is returned for an empty channel name.
var ErrInvalidName = errors.New("channel name is required")

// Cache stores and retrieves previously authorized channel credentials.
type Cache struct {
	store store.CredentialStore
	now   func() time.Time
}

// NewCache returns a Cache backed by s.
func NewCache(s store.CredentialStore) *Cache {
	return &Cache{store: s, now: time.Now}
}

// Save upserts the credential for name. Saving an existing name replaces its
// blob and refreshes last_used.
func (c *Cache) Save(ctx context.Context, name, channelID string, blob []byte) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	now := c.now().UTC()
	err := c.store.UpsertCredential(ctx, store.ChannelCredential{
		ChannelName: name,
		ChannelID:   channelID,
		AuthBlob:    blob,
		CreatedAt:   now,
		LastUsed:    now,
	})
	if err != nil {
		return fmt.Errorf("save credential %q: %w", name, err)
	}
	return nil
}

// Get returns the full credential for name and marks it used.
// A missing name yields store.ErrNotFound.
func (c *Cache) Get(ctx context.Context, name string) (store.ChannelCredential, error) {
	cred, err := c.store.GetCredential(ctx, strings.TrimSpace(name))
	if err != nil {
		return store.ChannelCredential{}, fmt.Errorf("load credential %q: %w", name, err)
	}
	at := c.now().UTC()
	if err := c.store.TouchCredential(ctx, cred.ChannelName, at); err != nil {
		return store.ChannelCredential{}, fmt.Errorf("touch credential %q: %w", name, err)
	}
	cred.LastUsed = at
	return cred, nil
}

// Load returns the auth blob saved for name.
func (c *Cache) Load(ctx context.Context, name string) ([]byte, error) {
	cred, err := c.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return cred.AuthBlob, nil
}

// ListRecent returns credential summaries, most recently used first.
func (c *Cache) ListRecent(ctx context.Context) ([]store.CredentialSummary, error) {
	return c.store.ListCredentials(ctx)
}
