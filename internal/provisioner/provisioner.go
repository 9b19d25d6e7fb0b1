package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/youtube/v3"

	"ytlive-orchestrator/internal/platform/logger"
)

// Ingest profile requested for every stream.
const (
	IngestResolution = "1080p"
	IngestFrameRate  = "30fps"
	IngestType       = "rtmp"
)

var (
	streamParts    = []string{"snippet", "cdn"}
	broadcastParts = []string{"snippet", "status", "contentDetails"}
	bindParts      = []string{"id", "contentDetails"}
)

// Privacy values accepted by the API.
var privacyValues = map[string]bool{"public": true, "unlisted": true, "private": true}

// Request describes the broadcast to create.
type Request struct {
	Title          string
	Description    string
	ScheduledStart time.Time
	Privacy        string
	MadeForKids    bool
}

// Result is what a successful provisioning produced.
type Result struct {
	StreamKey   string `json:"stream_key"`
	IngestURL   string `json:"ingest_url"`
	BroadcastID string `json:"broadcast_id"`
	StreamID    string `json:"stream_id"`
	WatchURL    string `json:"watch_url"`
	StudioURL   string `json:"studio_url"`
}

// Provisioner runs the create-stream, create-broadcast, bind sequence.
type Provisioner struct {
	client    Client
	logger    *slog.Logger
	ingestURL string
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provisioner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithIngestURL sets the ingest base used when the API omits an ingestion address.
func WithIngestURL(u string) Option {
	return func(p *Provisioner) { p.ingestURL = u }
}

// New returns a Provisioner over client.
func New(client Client, opts ...Option) *Provisioner {
	p := &Provisioner{client: client, logger: logger.Discard()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logger.WithComponent(p.logger, "provisioner")
	return p
}

// CreateAndBindBroadcast creates an ingest stream and a broadcast and binds them.
// The calls run strictly in sequence; the first failure aborts and is returned
// as *Error naming any resource already created. Nothing is rolled back.
func (p *Provisioner) CreateAndBindBroadcast(ctx context.Context, req Request) (Result, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Privacy == "" {
		req.Privacy = "public"
	}
	if req.Title == "" {
		return Result{}, &Error{Kind: ErrRejected, Step: StepValidate, Err: errors.New("title is required")}
	}
	if !privacyValues[req.Privacy] {
		return Result{}, &Error{Kind: ErrRejected, Step: StepValidate, Err: fmt.Errorf("unknown privacy status %q", req.Privacy)}
	}

	stream, err := p.client.InsertStream(ctx, &youtube.LiveStream{
		Snippet: &youtube.LiveStreamSnippet{Title: req.Title},
		Cdn: &youtube.CdnSettings{
			Resolution:    IngestResolution,
			FrameRate:     IngestFrameRate,
			IngestionType: IngestType,
		},
	}, streamParts)
	if err != nil {
		return Result{}, stepError(StepCreateStream, err, "", "")
	}
	if stream.Cdn == nil || stream.Cdn.IngestionInfo == nil || stream.Cdn.IngestionInfo.StreamName == "" {
		return Result{}, &Error{Kind: ErrRejected, Step: StepCreateStream, StreamID: stream.Id, Err: errors.New("response has no ingestion info")}
	}
	p.logger.Debug("stream created", slog.String("stream_id", stream.Id))

	broadcast, err := p.client.InsertBroadcast(ctx, &youtube.LiveBroadcast{
		Snippet: &youtube.LiveBroadcastSnippet{
			Title:              req.Title,
			Description:        req.Description,
			ScheduledStartTime: req.ScheduledStart.UTC().Format(time.RFC3339),
		},
		Status: &youtube.LiveBroadcastStatus{
			PrivacyStatus:           req.Privacy,
			SelfDeclaredMadeForKids: req.MadeForKids,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
		ContentDetails: &youtube.LiveBroadcastContentDetails{
			EnableAutoStart: true,
			EnableAutoStop:  true,
			RecordFromStart: true,
			EnableEmbed:     true,
		},
	}, broadcastParts)
	if err != nil {
		return Result{}, stepError(StepCreateBroadcast, err, stream.Id, "")
	}
	p.logger.Debug("broadcast created", slog.String("broadcast_id", broadcast.Id))

	if _, err := p.client.BindBroadcast(ctx, broadcast.Id, stream.Id, bindParts); err != nil {
		return Result{}, stepError(StepBind, err, stream.Id, broadcast.Id)
	}

	ingest := stream.Cdn.IngestionInfo.IngestionAddress
	if ingest == "" {
		ingest = p.ingestURL
	}
	res := Result{
		StreamKey:   stream.Cdn.IngestionInfo.StreamName,
		IngestURL:   ingest,
		BroadcastID: broadcast.Id,
		StreamID:    stream.Id,
		WatchURL:    WatchURL(broadcast.Id),
		StudioURL:   StudioURL(broadcast.Id),
	}
	p.logger.Info("broadcast bound",
		slog.String("broadcast_id", res.BroadcastID),
		slog.String("stream_id", res.StreamID),
	)
	return res, nil
}
