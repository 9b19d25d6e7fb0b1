// Package provisioner creates and binds YouTube live broadcasts.
package provisioner

import (
	"context"
	"errors"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// ErrNoChannel is returned when the authorized account owns no channel.
var ErrNoChannel = errors.New("account has no youtube channel")

// Client is the subset of the YouTube Data API the provisioner consumes.
type Client interface {
	InsertStream(ctx context.Context, stream *youtube.LiveStream, parts []string) (*youtube.LiveStream, error)
	InsertBroadcast(ctx context.Context, broadcast *youtube.LiveBroadcast, parts []string) (*youtube.LiveBroadcast, error)
	BindBroadcast(ctx context.Context, broadcastID, streamID string, parts []string) (*youtube.LiveBroadcast, error)
	MyChannel(ctx context.Context) (*youtube.Channel, error)
}

// YouTubeClientV3 implements Client over the generated v3 service.
type YouTubeClientV3 struct {
	*youtube.Service
}

var _ Client = (*YouTubeClientV3)(nil)

// NewYouTubeClientV3 builds a client; pass option.WithTokenSource for a channel credential.
func NewYouTubeClientV3(ctx context.Context, opts ...option.ClientOption) (*YouTubeClientV3, error) {
	srv, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &YouTubeClientV3{Service: srv}, nil
}

func (c *YouTubeClientV3) InsertStream(
	ctx context.Context,
	stream *youtube.LiveStream,
	parts []string,
) (*youtube.LiveStream, error) {
	return c.Service.LiveStreams.Insert(parts, stream).Context(ctx).Do()
}

func (c *YouTubeClientV3) InsertBroadcast(
	ctx context.Context,
	broadcast *youtube.LiveBroadcast,
	parts []string,
) (*youtube.LiveBroadcast, error) {
	return c.Service.LiveBroadcasts.Insert(parts, broadcast).Context(ctx).Do()
}

func (c *YouTubeClientV3) BindBroadcast(
	ctx context.Context,
	broadcastID string,
	streamID string,
	parts []string,
) (*youtube.LiveBroadcast, error) {
	return c.Service.LiveBroadcasts.Bind(broadcastID, parts).StreamId(streamID).Context(ctx).Do()
}

// MyChannel returns the channel owned by the authorized account.
func (c *YouTubeClientV3) MyChannel(ctx context.Context) (*youtube.Channel, error) {
	resp, err := c.Service.Channels.List([]string{"snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, ErrNoChannel
	}
	return resp.Items[0], nil
}
