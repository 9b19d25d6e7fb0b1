package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/youtube/v3"

	"ytlive-orchestrator/internal/platform/config"
	"ytlive-orchestrator/internal/platform/logger"
)

var (
	// ErrNotConfigured means no OAuth client id/secret was supplied.
	ErrNotConfigured = errors.New("oauth client is not configured")

	// ErrExchange is returned when the token endpoint refuses an authorization code.
	ErrExchange = errors.New("authorization code exchange failed")

	// ErrBadToken is returned for an auth blob that does not decode to a token.
	ErrBadToken = errors.New("malformed auth blob")
)

// OAuth is the credential provider: it runs the authorization-code flow and
// refreshes expired tokens.
type OAuth struct {
	cfg    *oauth2.Config
	cache  *Cache
	logger *slog.Logger
}

// NewOAuth builds the provider from configuration. Refreshed tokens are
// written back through cache.
func NewOAuth(s config.OAuthSettings, cache *Cache, log *slog.Logger) (*OAuth, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	endpoint := google.Endpoint
	if s.AuthURL != "" {
		endpoint.AuthURL = s.AuthURL
	}
	if s.TokenURL != "" {
		endpoint.TokenURL = s.TokenURL
	}
	if log == nil {
		log = logger.Discard()
	}
	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     s.ClientID,
			ClientSecret: s.ClientSecret,
			RedirectURL:  s.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{youtube.YoutubeForceSslScope},
		},
		cache:  cache,
		logger: logger.WithComponent(log, "oauth"),
	}, nil
}

// AuthURL returns the consent page URL. Offline access and forced consent make
// the provider hand out a refresh token every time.
func (o *OAuth) AuthURL(state string) string {
	return o.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token set.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", ErrExchange)
	}
	tok, err := o.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchange, err)
	}
	return tok, nil
}

// EncodeToken serializes tok into an auth blob.
func EncodeToken(tok *oauth2.Token) ([]byte, error) {
	if tok == nil {
		return nil, ErrBadToken
	}
	return json.Marshal(tok)
}

// DecodeToken parses an auth blob produced by EncodeToken.
func DecodeToken(blob []byte) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.Unmarshal(blob, &tok); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadToken, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrBadToken
	}
	return &tok, nil
}

// TokenSource returns a source for the saved channel credential that refreshes
// through the provider and saves every new token back to the cache.
func (o *OAuth) TokenSource(ctx context.Context, name, channelID string, blob []byte) (oauth2.TokenSource, error) {
	tok, err := DecodeToken(blob)
	if err != nil {
		return nil, err
	}
	// The source outlives the request that created it.
	ctx = context.WithoutCancel(ctx)
	return &persistingSource{
		ctx:       ctx,
		base:      oauth2.ReuseTokenSource(tok, o.cfg.TokenSource(ctx, tok)),
		cache:     o.cache,
		logger:    o.logger,
		name:      name,
		channelID: channelID,
		last:      tok.AccessToken,
	}, nil
}

type persistingSource struct {
	ctx       context.Context
	base      oauth2.TokenSource
	cache     *Cache
	logger    *slog.Logger
	name      string
	channelID string

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken == p.last || p.cache == nil {
		return tok, nil
	}
	p.last = tok.AccessToken

	blob, err := EncodeToken(tok)
	if err == nil {
		err = p.cache.Save(p.ctx, p.name, p.channelID, blob)
	}
	if err != nil {
		p.logger.Warn("could not save refreshed token", slog.String("channel", p.name), slog.Any("error", err))
	} else {
		p.logger.Debug("saved refreshed token", slog.String("channel", p.name))
	}
	return tok, nil
}
