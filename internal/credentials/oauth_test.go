package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"ytlive-orchestrator/internal/platform/config"
	"ytlive-orchestrator/internal/store"
)

// newTokenServer answers the authorization_code and refresh_token grants.
// Code "good" is accepted; anything else gets a 400.
func newTokenServer(t *testing.T, refreshes *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "good" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-1",
				"refresh_token": "refresh-1",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		case "refresh_token":
			refreshes.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-2",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testSettings(tokenURL string) config.OAuthSettings {
	return config.OAuthSettings{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/auth/callback",
		AuthURL:      "https://accounts.example.test/auth",
		TokenURL:     tokenURL,
	}
}

func TestNewOAuth_RequiresClient(t *testing.T) {
	_, err := NewOAuth(config.OAuthSettings{}, nil, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestOAuth_AuthURL(t *testing.T) {
	o, err := NewOAuth(testSettings("https://accounts.example.test/token"), nil, nil)
	require.NoError(t, err)

	u, err := url.Parse(o.AuthURL("xyz"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "accounts.example.test", u.Host)
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "xyz", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "https://www.googleapis.com/auth/youtube.force-ssl", q.Get("scope"))
}

func TestOAuth_Exchange(t *testing.T) {
	var refreshes atomic.Int32
	srv := newTokenServer(t, &refreshes)
	o, err := NewOAuth(testSettings(srv.URL), nil, nil)
	require.NoError(t, err)

	tok, err := o.Exchange(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)

	_, err = o.Exchange(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrExchange)
	var re *oauth2.RetrieveError
	assert.ErrorAs(t, err, &re)

	_, err = o.Exchange(context.Background(), "")
	assert.ErrorIs(t, err, ErrExchange)
}

func TestTokenCodec(t *testing.T) {
	in := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Unix(1700000000, 0).UTC()}
	blob, err := EncodeToken(in)
	require.NoError(t, err)

	out, err := DecodeToken(blob)
	require.NoError(t, err)
	assert.Equal(t, in.AccessToken, out.AccessToken)
	assert.Equal(t, in.RefreshToken, out.RefreshToken)
	assert.True(t, in.Expiry.Equal(out.Expiry))

	_, err = DecodeToken([]byte("not json"))
	assert.ErrorIs(t, err, ErrBadToken)
	_, err = DecodeToken([]byte(`{}`))
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestTokenSource_SavesRefreshedToken(t *testing.T) {
	var refreshes atomic.Int32
	srv := newTokenServer(t, &refreshes)
	cache := NewCache(store.NewMemoryStore())
	o, err := NewOAuth(testSettings(srv.URL), cache, nil)
	require.NoError(t, err)

	expired, err := EncodeToken(&oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, cache.Save(ctx, "Main", "UC1", expired))

	ts, err := o.TokenSource(ctx, "Main", "UC1", expired)
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)

	_, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, int32(1), refreshes.Load(), "a fresh token is reused")

	blob, err := cache.Load(ctx, "Main")
	require.NoError(t, err)
	saved, err := DecodeToken(blob)
	require.NoError(t, err)
	assert.Equal(t, "access-2", saved.AccessToken)
	assert.Equal(t, "refresh-1", saved.RefreshToken)
}
