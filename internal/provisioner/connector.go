package provisioner

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"ytlive-orchestrator/internal/credentials"
	"ytlive-orchestrator/internal/platform/logger"
	"ytlive-orchestrator/internal/store"
)

// Connector turns saved channel credentials into provisioners and runs the
// authorization flow that produces those credentials.
type Connector struct {
	oauth      *credentials.OAuth
	cache      *credentials.Cache
	logger     *slog.Logger
	ingestURL  string
	clientOpts []option.ClientOption
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithConnectorLogger sets the logger handed to the connector and its provisioners.
func WithConnectorLogger(l *slog.Logger) ConnectorOption {
	return func(c *Connector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDefaultIngestURL is passed to every provisioner as WithIngestURL.
func WithDefaultIngestURL(u string) ConnectorOption {
	return func(c *Connector) { c.ingestURL = u }
}

// WithClientOptions adds options to every YouTube client, e.g. option.WithEndpoint.
func WithClientOptions(opts ...option.ClientOption) ConnectorOption {
	return func(c *Connector) { c.clientOpts = append(c.clientOpts, opts...) }
}

// NewConnector returns a Connector.
func NewConnector(oauth *credentials.OAuth, cache *credentials.Cache, opts ...ConnectorOption) *Connector {
	c := &Connector{oauth: oauth, cache: cache, logger: logger.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthURL returns the consent page URL for a new channel.
func (c *Connector) AuthURL(state string) string {
	return c.oauth.AuthURL(state)
}

// Connect builds a provisioner acting as the channel in cred.
func (c *Connector) Connect(ctx context.Context, cred store.ChannelCredential) (*Provisioner, error) {
	ts, err := c.oauth.TokenSource(ctx, cred.ChannelName, cred.ChannelID, cred.AuthBlob)
	if err != nil {
		return nil, &Error{Kind: ErrAuth, Step: StepConnect, Err: err}
	}
	client, err := c.newClient(ctx, ts)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Step: StepConnect, Err: err}
	}
	return New(client,
		WithLogger(c.logger.With(slog.String("channel", cred.ChannelName))),
		WithIngestURL(c.ingestURL),
	), nil
}

// Authorize exchanges an authorization code, identifies the channel it grants
// access to and saves the credential under the channel title.
func (c *Connector) Authorize(ctx context.Context, code string) (store.CredentialSummary, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return store.CredentialSummary{}, &Error{Kind: ErrAuth, Step: StepConnect, Err: err}
	}
	client, err := c.newClient(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return store.CredentialSummary{}, &Error{Kind: ErrTransport, Step: StepConnect, Err: err}
	}
	ch, err := client.MyChannel(ctx)
	if err != nil {
		return store.CredentialSummary{}, stepError(StepIdentify, err, "", "")
	}

	name := ch.Id
	if ch.Snippet != nil && ch.Snippet.Title != "" {
		name = ch.Snippet.Title
	}
	blob, err := credentials.EncodeToken(tok)
	if err != nil {
		return store.CredentialSummary{}, err
	}
	if err := c.cache.Save(ctx, name, ch.Id, blob); err != nil {
		return store.CredentialSummary{}, err
	}
	cred, err := c.cache.Get(ctx, name)
	if err != nil {
		return store.CredentialSummary{}, err
	}
	c.logger.Info("channel authorized", slog.String("channel", name), slog.String("channel_id", ch.Id))
	return cred.Summary(), nil
}

func (c *Connector) newClient(ctx context.Context, ts oauth2.TokenSource) (*YouTubeClientV3, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.clientOpts...)
	client, err := NewYouTubeClientV3(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube client: %w", err)
	}
	return client, nil
}
