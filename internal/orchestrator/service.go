package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ytlive-orchestrator/internal/credentials"
	"ytlive-orchestrator/internal/encoder"
	"ytlive-orchestrator/internal/eventlog"
	"ytlive-orchestrator/internal/platform/logger"
	"ytlive-orchestrator/internal/platform/metrics"
	"ytlive-orchestrator/internal/provisioner"
	"ytlive-orchestrator/internal/store"
)

// Provisioner creates and binds a broadcast for one channel.
type Provisioner interface {
	CreateAndBindBroadcast(ctx context.Context, req provisioner.Request) (provisioner.Result, error)
}

// ProvisionerFactory builds a Provisioner acting as the channel in cred.
type ProvisionerFactory func(ctx context.Context, cred store.ChannelCredential) (Provisioner, error)

// Encoder starts encoder processes.
type Encoder interface {
	Start(ctx context.Context, job encoder.Job) (*encoder.Handle, error)
	Probe(ctx context.Context, path string) (time.Duration, error)
}

// Config holds the orchestrator's tunables.
type Config struct {
	MediaDir           string
	IngestURL          string
	StatusEvents       int
	ProvisionTimeout   time.Duration
	HeartbeatInterval  time.Duration
	ScheduleDelay      time.Duration
	DefaultTitle       string
	DefaultDescription string
	DisableUploads     bool
}

// Deps are the collaborators of a Service.
type Deps struct {
	Events      *eventlog.Log
	Credentials *credentials.Cache
	Encoder     Encoder
	Connect     ProvisionerFactory
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

const (
	defaultTitle       = "Live Stream - Auto Start"
	defaultDescription = "Live stream started automatically"
	probeTimeout       = 10 * time.Second
)

var privacyValues = map[string]bool{"public": true, "unlisted": true, "private": true}

// Service is the session state machine. It owns the single current session,
// its encoder handle and the loaded channel. All transitions happen under mu;
// provisioning calls and encoder shutdown run without it.
type Service struct {
	cfg     Config
	events  *eventlog.Log
	creds   *credentials.Cache
	enc     Encoder
	connect ProvisionerFactory
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	state   State
	session *session
	channel *channel
}

// NewService returns an idle Service.
func NewService(cfg Config, deps Deps) *Service {
	if cfg.MediaDir == "" {
		cfg.MediaDir = "."
	}
	if cfg.StatusEvents <= 0 {
		cfg.StatusEvents = 15
	}
	if cfg.ProvisionTimeout <= 0 {
		cfg.ProvisionTimeout = 30 * time.Second
	}
	if cfg.DefaultTitle == "" {
		cfg.DefaultTitle = defaultTitle
	}
	if cfg.DefaultDescription == "" {
		cfg.DefaultDescription = defaultDescription
	}
	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		cfg:     cfg,
		events:  deps.Events,
		creds:   deps.Credentials,
		enc:     deps.Encoder,
		connect: deps.Connect,
		logger:  logger.WithComponent(log, "orchestrator"),
		metrics: deps.Metrics,
		now:     time.Now,
		state:   StateIdle,
	}
}

// newSessionID returns session_<YYYYmmdd_HHMMSS>_<8 hex>.
func newSessionID(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "session_" + t.Format("20060102_150405") + "_" + suffix
}

// StartSession provisions a broadcast on the loaded channel and starts the
// encoder for req.Video. It blocks for the provisioning round trips.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (Status, error) {
	s.mu.Lock()
	if s.state.Active() {
		current, state := s.session.id, s.state
		s.mu.Unlock()
		s.logger.Warn("start rejected", slog.String("active_session", current), slog.String("state", string(state)))
		return Status{}, ErrAlreadyActive
	}
	if s.channel == nil {
		s.mu.Unlock()
		return Status{}, ErrNoChannel
	}
	path, preq, err := s.prepare(req)
	if err != nil {
		s.mu.Unlock()
		return Status{}, err
	}

	now := s.now()
	sess := &session{
		id:        newSessionID(now),
		video:     path,
		channel:   s.channel.name,
		startedAt: now.UTC(),
		settled:   make(chan struct{}),
	}
	defer close(sess.settled)
	prov := s.channel.prov
	s.session = sess
	s.state = StateProvisioning
	s.mu.Unlock()

	log := s.logger.With(slog.String("session_id", sess.id))
	log.Info("session provisioning", slog.String("video", path), slog.String("channel", sess.channel))
	s.events.CreateSession(ctx, store.Session{
		ID:        sess.id,
		StartTime: sess.startedAt,
		VideoFile: path,
		Status:    string(StateProvisioning),
	})

	probed := s.probe(ctx, path)

	// Only StopSession cancels a session, so the caller's context does not
	// bound the remote calls; the provisioning timeout does.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProvisionTimeout)
	preq.ScheduledStart = s.now().Add(s.cfg.ScheduleDelay)
	began := time.Now()
	res, perr := prov.CreateAndBindBroadcast(pctx, preq)
	cancel()
	s.metrics.ObserveProvision(time.Since(began))

	s.mu.Lock()
	defer s.mu.Unlock()

	if perr != nil {
		sess.lastErr = perr.Error()
		s.recordLocked(ctx, sess, store.KindError, "Provisioning failed: "+perr.Error(), "")
		if sess.stopRequested {
			s.finishLocked(ctx, sess, StateStopped, "Session stopped before streaming started")
			return s.snapshotLocked(), fmt.Errorf("%w: %w", ErrStoppedDuringProvisioning, perr)
		}
		s.finishLocked(ctx, sess, StateFailed, "")
		log.Error("provisioning failed", slog.Any("error", perr))
		return s.snapshotLocked(), perr
	}

	sess.result = &res
	msg := fmt.Sprintf("Broadcast %s ready on %s; stream key %s; watch %s", res.BroadcastID, sess.channel, res.StreamKey, res.WatchURL)
	if probed > 0 {
		msg += fmt.Sprintf("; video duration %s", probed.Round(time.Second))
	}
	s.recordLocked(ctx, sess, store.KindInfo, msg, res.StreamKey)

	if sess.stopRequested {
		s.finishLocked(ctx, sess, StateStopped, "Session stopped before streaming started")
		log.Info("provisioning result discarded after stop")
		return s.snapshotLocked(), ErrStoppedDuringProvisioning
	}

	ingest := res.IngestURL
	if ingest == "" {
		ingest = s.cfg.IngestURL
	}
	h, err := s.enc.Start(ctx, encoder.Job{
		SessionID:     sess.id,
		VideoPath:     path,
		IngestURL:     ingest,
		StreamKey:     res.StreamKey,
		DurationLimit: req.DurationLimit,
		OnExit:        func(exit encoder.Exit) { s.onEncoderExit(sess, exit) },
	})
	if err != nil {
		sess.lastErr = err.Error()
		s.recordLocked(ctx, sess, store.KindError, "Encoder failed to start: "+err.Error(), "")
		s.finishLocked(ctx, sess, StateFailed, "")
		log.Error("encoder start failed", slog.Any("error", err))
		return s.snapshotLocked(), err
	}

	sess.handle = h
	s.state = StateLive
	s.events.UpdateSession(ctx, sess.id, string(StateLive), nil)
	s.metrics.IncSessionsStarted()
	s.startHeartbeatLocked(sess)
	log.Info("session live", slog.String("broadcast_id", res.BroadcastID), slog.Int("pid", h.PID()))
	return s.snapshotLocked(), nil
}

// prepare validates req and fills in defaults. Called with mu held.
func (s *Service) prepare(req StartRequest) (string, provisioner.Request, error) {
	path, err := s.resolveVideo(req.Video)
	if err != nil {
		return "", provisioner.Request{}, err
	}
	if req.DurationLimit < 0 {
		return "", provisioner.Request{}, fmt.Errorf("%w: negative duration limit", ErrInvalidRequest)
	}
	privacy := strings.ToLower(strings.TrimSpace(req.Privacy))
	if privacy == "" {
		privacy = "public"
	}
	if !privacyValues[privacy] {
		return "", provisioner.Request{}, fmt.Errorf("%w: privacy must be public, unlisted or private", ErrInvalidRequest)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = s.cfg.DefaultTitle
	}
	description := req.Description
	if strings.TrimSpace(description) == "" {
		description = s.cfg.DefaultDescription
	}
	return path, provisioner.Request{
		Title:       title,
		Description: description,
		Privacy:     privacy,
		MadeForKids: req.MadeForKids,
	}, nil
}

// probe reads the video duration for the provisioning event. Zero means unknown.
func (s *Service) probe(ctx context.Context, path string) time.Duration {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
	defer cancel()
	d, err := s.enc.Probe(ctx, path)
	if err != nil {
		s.logger.Debug("probe failed", slog.String("video", path), slog.Any("error", err))
		return 0
	}
	return d
}

// StopSession stops the active session. While provisioning it only marks the
// session; the in-flight remote call completes and its result is discarded.
// While live it waits until the encoder has exited or ctx ends.
func (s *Service) StopSession(ctx context.Context) (Status, error) {
	s.mu.Lock()
	sess := s.session
	switch s.state {
	case StateProvisioning:
		sess.stopRequested = true
		s.state = StateStopping
		s.logger.Info("stop requested during provisioning", slog.String("session_id", sess.id))
		st := s.snapshotLocked()
		s.mu.Unlock()
		return st, nil
	case StateLive:
		sess.stopRequested = true
		s.state = StateStopping
		s.stopHeartbeatLocked(sess)
		s.events.UpdateSession(ctx, sess.id, string(StateStopping), nil)
		s.recordLocked(ctx, sess, store.KindInfo, "Stop requested", "")
	case StateStopping:
	default:
		s.mu.Unlock()
		return Status{}, ErrNotActive
	}
	h := sess.handle
	s.mu.Unlock()

	if h != nil {
		if err := h.Stop(ctx); err != nil {
			return s.current(), fmt.Errorf("wait for encoder: %w", err)
		}
	}
	return s.current(), nil
}

// onEncoderExit runs on the encoder's goroutine after its exit event was recorded.
func (s *Service) onEncoderExit(sess *session, exit encoder.Exit) {
	ctx := context.Background()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != sess || !s.state.Active() {
		return
	}
	s.stopHeartbeatLocked(sess)
	switch {
	case sess.stopRequested || exit.StopRequested:
		s.finishLocked(ctx, sess, StateStopped, "Session stopped")
	case exit.Clean():
		s.finishLocked(ctx, sess, StateStopped, "Session ended: encoder finished")
	default:
		sess.lastErr = "encoder exited abnormally: " + exit.Status
		if exit.LastLine != "" {
			sess.lastErr += ": " + exit.LastLine
		}
		s.recordLocked(ctx, sess, store.KindError, "Session failed: "+sess.lastErr, "")
		s.finishLocked(ctx, sess, StateFailed, "")
		s.logger.Error("encoder crashed", slog.String("session_id", sess.id), slog.String("status", exit.Status))
	}
}

// finishLocked moves sess into a terminal state. An Info event is recorded
// when msg is set; failures record their Error event before calling.
func (s *Service) finishLocked(ctx context.Context, sess *session, state State, msg string) {
	s.state = state
	if msg != "" {
		s.recordLocked(ctx, sess, store.KindInfo, msg, "")
	}
	end := s.now().UTC()
	s.events.UpdateSession(ctx, sess.id, string(state), &end)
	if state == StateFailed {
		s.metrics.IncSessionsFailed()
	} else {
		s.metrics.IncSessionsStopped()
	}
	s.logger.Info("session finished", slog.String("session_id", sess.id), slog.String("state", string(state)))
}

func (s *Service) recordLocked(ctx context.Context, sess *session, kind store.EventKind, msg, streamKey string) {
	s.events.Record(ctx, store.Event{
		SessionID:   sess.id,
		Kind:        kind,
		Message:     msg,
		VideoFile:   sess.video,
		StreamKey:   streamKey,
		ChannelName: sess.channel,
	})
}

func (s *Service) startHeartbeatLocked(sess *session) {
	if s.cfg.HeartbeatInterval <= 0 {
		return
	}
	sess.heartbeat = make(chan struct{})
	go s.heartbeat(sess, sess.heartbeat)
}

func (s *Service) stopHeartbeatLocked(sess *session) {
	if sess.heartbeat != nil {
		close(sess.heartbeat)
		sess.heartbeat = nil
	}
}

func (s *Service) heartbeat(sess *session, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		if s.session == sess && s.state == StateLive {
			uptime := s.now().Sub(sess.startedAt).Round(time.Second)
			s.events.Record(context.Background(), store.Event{
				SessionID:   sess.id,
				Kind:        store.KindHeartbeat,
				Message:     "Streaming alive, uptime " + uptime.String(),
				VideoFile:   sess.video,
				ChannelName: sess.channel,
			})
		}
		s.mu.Unlock()
	}
}

// Status returns the current state, session and its latest events. The state
// is read under the lock; events are read from the store afterwards.
func (s *Service) Status(ctx context.Context) Status {
	st := s.current()
	events, err := s.events.Recent(ctx, store.EventQuery{SessionID: st.SessionID, Limit: s.cfg.StatusEvents})
	if err != nil {
		st.EventsError = err.Error()
		return st
	}
	st.Events = events
	return st
}

func (s *Service) current() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() Status {
	st := Status{State: s.state}
	if s.channel != nil {
		st.Channel = s.channel.name
	}
	if sess := s.session; sess != nil {
		started := sess.startedAt
		st.SessionID = sess.id
		st.VideoFile = sess.video
		st.Channel = sess.channel
		st.StartedAt = &started
		st.LastError = sess.lastErr
		if sess.result != nil {
			res := *sess.result
			st.Broadcast = &res
		}
	}
	return st
}

// RecentEvents returns the latest events across all sessions.
func (s *Service) RecentEvents(ctx context.Context, limit int) ([]store.Event, error) {
	return s.events.Recent(ctx, store.EventQuery{Limit: limit})
}

// SessionEvents returns the latest events of one session.
func (s *Service) SessionEvents(ctx context.Context, sessionID string, limit int) ([]store.Event, error) {
	return s.events.Recent(ctx, store.EventQuery{SessionID: sessionID, Limit: limit})
}

// Sessions returns persisted session records, newest first.
func (s *Service) Sessions(ctx context.Context, limit int) ([]store.Session, error) {
	return s.events.Sessions(ctx, store.SessionQuery{Limit: limit})
}

// ListSavedCredentials returns saved channels, most recently used first.
func (s *Service) ListSavedCredentials(ctx context.Context) ([]store.CredentialSummary, error) {
	return s.creds.ListRecent(ctx)
}

// LoadCredential makes the saved channel name the one new sessions stream to.
func (s *Service) LoadCredential(ctx context.Context, name string) (store.CredentialSummary, error) {
	if s.connect == nil {
		return store.CredentialSummary{}, errors.New("no provisioner factory configured")
	}
	cred, err := s.creds.Get(ctx, name)
	if err != nil {
		return store.CredentialSummary{}, err
	}
	prov, err := s.connect(ctx, cred)
	if err != nil {
		return store.CredentialSummary{}, err
	}

	s.mu.Lock()
	s.channel = &channel{name: cred.ChannelName, id: cred.ChannelID, prov: prov}
	s.mu.Unlock()

	s.logger.Info("channel loaded", slog.String("channel", cred.ChannelName), slog.String("channel_id", cred.ChannelID))
	return cred.Summary(), nil
}

// Health reports the persistence side channel.
func (s *Service) Health() eventlog.Health {
	return s.events.Health()
}

// ActiveSessionCount is 1 while a session is provisioning, live or stopping.
func (s *Service) ActiveSessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Active() {
		return 1
	}
	return 0
}

// Recover closes sessions a previous process left open. Their encoders died
// with that process, so each is marked failed with an Error event.
func (s *Service) Recover(ctx context.Context) (int, error) {
	open, err := s.events.Sessions(ctx, store.SessionQuery{OpenOnly: true})
	if err != nil {
		return 0, fmt.Errorf("list open sessions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	recovered := 0
	for _, rec := range open {
		if s.session != nil && s.session.id == rec.ID {
			continue
		}
		s.events.Record(ctx, store.Event{
			SessionID: rec.ID,
			Kind:      store.KindError,
			Message:   "Session interrupted: orchestrator restarted while " + rec.Status,
			VideoFile: rec.VideoFile,
		})
		end := s.now().UTC()
		s.events.UpdateSession(ctx, rec.ID, string(StateFailed), &end)
		recovered++
	}
	if recovered > 0 {
		s.logger.Warn("recovered interrupted sessions", slog.Int("count", recovered))
	}
	return recovered, nil
}

// Close stops the active session, if any, and waits for a StartSession still
// provisioning to return. After Close the service no longer writes events
// unless a new session is started.
func (s *Service) Close(ctx context.Context) error {
	if _, err := s.StopSession(ctx); err != nil && !errors.Is(err, ErrNotActive) {
		return err
	}

	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return nil
	}
	select {
	case <-sess.settled:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for provisioning: %w", ctx.Err())
	}
}
