package provisioner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"ytlive-orchestrator/internal/credentials"
	"ytlive-orchestrator/internal/platform/config"
	"ytlive-orchestrator/internal/store"
)

func newTokenEndpoint(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestConnector(t *testing.T, apiURL string) (*Connector, *credentials.Cache) {
	t.Helper()
	tokens := newTokenEndpoint(t)
	cache := credentials.NewCache(store.NewMemoryStore())
	oauth, err := credentials.NewOAuth(config.OAuthSettings{
		ClientID:     "id",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/cb",
		TokenURL:     tokens.URL,
	}, cache, nil)
	require.NoError(t, err)
	return NewConnector(oauth, cache,
		WithClientOptions(option.WithEndpoint(apiURL+"/")),
		WithDefaultIngestURL(config.DefaultIngestURL),
	), cache
}

func TestConnector_AuthorizeSavesChannel(t *testing.T) {
	f, api := newFakeYouTube(t)
	conn, cache := newTestConnector(t, api.URL)
	ctx := context.Background()

	summary, err := conn.Authorize(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "Main Channel", summary.ChannelName)
	assert.Equal(t, "UC-main", summary.ChannelID)
	assert.Equal(t, "Bearer access-1", f.auth())

	blob, err := cache.Load(ctx, "Main Channel")
	require.NoError(t, err)
	tok, err := credentials.DecodeToken(blob)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
}

func TestConnector_AuthorizeBadCode(t *testing.T) {
	_, api := newFakeYouTube(t)
	conn, cache := newTestConnector(t, api.URL)

	_, err := conn.Authorize(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrAuth)
	assert.ErrorIs(t, err, credentials.ErrExchange)

	list, err := cache.ListRecent(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConnector_ConnectProvisions(t *testing.T) {
	f, api := newFakeYouTube(t)
	conn, _ := newTestConnector(t, api.URL)
	ctx := context.Background()

	blob, err := credentials.EncodeToken(&oauth2.Token{AccessToken: "saved", TokenType: "Bearer"})
	require.NoError(t, err)
	p, err := conn.Connect(ctx, store.ChannelCredential{ChannelName: "Main Channel", ChannelID: "UC-main", AuthBlob: blob})
	require.NoError(t, err)

	res, err := p.CreateAndBindBroadcast(ctx, Request{Title: "T", ScheduledStart: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "key-9", res.StreamKey)
	assert.Equal(t, "Bearer saved", f.auth())
}

func TestConnector_ConnectRejectsBadBlob(t *testing.T) {
	_, api := newFakeYouTube(t)
	conn, _ := newTestConnector(t, api.URL)

	_, err := conn.Connect(context.Background(), store.ChannelCredential{ChannelName: "x", AuthBlob: []byte("garbage")})
	assert.ErrorIs(t, err, ErrAuth)
	assert.ErrorIs(t, err, credentials.ErrBadToken)
}
