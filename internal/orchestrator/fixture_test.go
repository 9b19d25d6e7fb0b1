package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytlive-orchestrator/internal/credentials"
	"ytlive-orchestrator/internal/encoder"
	"ytlive-orchestrator/internal/eventlog"
	"ytlive-orchestrator/internal/platform/metrics"
	"ytlive-orchestrator/internal/provisioner"
	"ytlive-orchestrator/internal/store"
)

// Encoder stand-ins.
const (
	loopingEncoder = `trap 'echo stopping; exit 0' INT
echo "frame=1 fps=30"
while :; do sleep 0.05; done`
	crashingEncoder = `echo "frame=1 fps=30"
sleep 0.2
echo "Connection reset by peer"
exit 1`
	finishingEncoder = `echo "frame=1 fps=30"
exit 0`
)

// brokenEventStore keeps session records but fails every event append.
type brokenEventStore struct {
	*store.MemoryStore
}

func (brokenEventStore) AppendEvent(context.Context, store.Event) (store.Event, error) {
	return store.Event{}, &store.PersistenceError{Op: "append event", Err: errors.New("disk full")}
}

type fakeProvisioner struct {
	mu     sync.Mutex
	result provisioner.Result
	err    error
	gate   chan struct{}
	reqs   []provisioner.Request
}

func (f *fakeProvisioner) CreateAndBindBroadcast(ctx context.Context, req provisioner.Request) (provisioner.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	gate, res, err := f.gate, f.result, f.err
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return provisioner.Result{}, ctx.Err()
		}
	}
	return res, err
}

func (f *fakeProvisioner) set(fn func(f *fakeProvisioner)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeProvisioner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fixture struct {
	svc      *Service
	store    *store.MemoryStore
	events   *eventlog.Log
	cache    *credentials.Cache
	prov     *fakeProvisioner
	metrics  *metrics.Metrics
	mediaDir string
}

func writeExecutable(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// newFixture builds a Service with channel "Main" loaded and a.mp4 in its media directory.
func newFixture(t *testing.T, encoderScript string, tune ...func(*Config)) *fixture {
	t.Helper()
	return newFixtureWithBackend(t, encoderScript, nil, tune...)
}

// newFixtureWithBackend is newFixture with the event backend wrapped by wrap.
func newFixtureWithBackend(t *testing.T, encoderScript string, wrap func(*store.MemoryStore) eventlog.Backend, tune ...func(*Config)) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts stand in for ffmpeg")
	}
	binDir := t.TempDir()
	mediaDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mediaDir, "a.mp4"), []byte("not really a video"), 0o644))

	ms := store.NewMemoryStore()
	m := metrics.New()
	var backend eventlog.Backend = ms
	if wrap != nil {
		backend = wrap(ms)
	}
	events := eventlog.New(backend, eventlog.WithMetrics(m))
	cache := credentials.NewCache(ms)
	sup := encoder.NewSupervisor(encoder.Config{
		FFmpegPath:  writeExecutable(t, binDir, "ffmpeg", encoderScript),
		FFprobePath: writeExecutable(t, binDir, "ffprobe", "echo 42.0"),
		StopGrace:   2 * time.Second,
	}, events, nil, m)

	prov := &fakeProvisioner{result: provisioner.Result{
		StreamKey:   "key-123",
		IngestURL:   "rtmp://a.rtmp.youtube.com/live2",
		BroadcastID: "bcast-1",
		StreamID:    "stream-1",
		WatchURL:    provisioner.WatchURL("bcast-1"),
		StudioURL:   provisioner.StudioURL("bcast-1"),
	}}

	cfg := Config{
		MediaDir:         mediaDir,
		IngestURL:        "rtmp://a.rtmp.youtube.com/live2",
		StatusEvents:     50,
		ProvisionTimeout: 5 * time.Second,
		ScheduleDelay:    10 * time.Second,
	}
	for _, fn := range tune {
		fn(&cfg)
	}
	svc := NewService(cfg, Deps{
		Events:      events,
		Credentials: cache,
		Encoder:     sup,
		Connect: func(context.Context, store.ChannelCredential) (Provisioner, error) {
			return prov, nil
		},
		Metrics: m,
	})

	ctx := context.Background()
	require.NoError(t, cache.Save(ctx, "Main", "UC-main", []byte(`{"access_token":"x"}`)))
	_, err := svc.LoadCredential(ctx, "Main")
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return &fixture{svc: svc, store: ms, events: events, cache: cache, prov: prov, metrics: m, mediaDir: mediaDir}
}

func (f *fixture) start(t *testing.T) Status {
	t.Helper()
	st, err := f.svc.StartSession(context.Background(), StartRequest{Video: "a.mp4", Title: "T", Privacy: "public"})
	require.NoError(t, err)
	return st
}

// timeline returns a session's events oldest first.
func (f *fixture) timeline(t *testing.T, sessionID string) []store.Event {
	t.Helper()
	desc, err := f.svc.SessionEvents(context.Background(), sessionID, 10000)
	require.NoError(t, err)
	out := make([]store.Event, len(desc))
	for i, ev := range desc {
		out[len(desc)-1-i] = ev
	}
	return out
}

func (f *fixture) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.svc.Status(context.Background()).State == want
	}, 10*time.Second, 10*time.Millisecond, "state never became %s", want)
}

func countKind(events []store.Event, kind store.EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (f *fixture) assertCounter(t *testing.T, name, help string, want int) {
	t.Helper()
	expected := fmt.Sprintf("# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, want)
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(expected), name))
}
