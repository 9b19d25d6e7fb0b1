// Package encoder runs and supervises the ffmpeg process that pushes a local
// video file to an RTMP ingest endpoint.
package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	child_process_manager "github.com/AgustinSRG/go-child-process-manager"

	"ytlive-orchestrator/internal/platform/logger"
	"ytlive-orchestrator/internal/platform/metrics"
	"ytlive-orchestrator/internal/store"
)

var (
	// ErrProcess classifies encoder start and probe failures.
	ErrProcess = errors.New("encoder process error")

	// ErrInvalidJob is returned by Start for a job without a video or stream key.
	ErrInvalidJob = errors.New("invalid encoder job")
)

// ProcessError wraps an encoder failure with the operation that failed.
type ProcessError struct {
	Op  string
	Err error
}

func (e *ProcessError) Error() string { return fmt.Sprintf("encoder %s: %v", e.Op, e.Err) }

func (e *ProcessError) Unwrap() error { return e.Err }

func (e *ProcessError) Is(target error) bool { return target == ErrProcess }

// Sink receives the events produced while an encoder runs.
type Sink interface {
	Record(ctx context.Context, ev store.Event)
}

// Config holds the binaries and timings used by a Supervisor.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	// StopGrace is how long Stop waits after the interrupt before killing.
	StopGrace time.Duration
	Profile   Profile
}

const (
	defaultStopGrace = 5 * time.Second
	// drainTimeout bounds how long output is read after the process exited,
	// in case a grandchild still holds the pipe open.
	drainTimeout = 2 * time.Second
	maxLineBytes = 1 << 20
)

// Job describes one encoder run.
type Job struct {
	SessionID     string
	VideoPath     string
	IngestURL     string
	StreamKey     string
	DurationLimit time.Duration
	// OnExit runs once, after the exit event was recorded and before Done closes.
	OnExit func(Exit)
}

// Exit describes how an encoder process ended.
type Exit struct {
	Code          int
	Status        string
	Err           error
	StopRequested bool
	LastLine      string
}

// Clean reports a zero exit status with no error text in the final output line.
func (e Exit) Clean() bool {
	return e.Err == nil && e.Code == 0 && !strings.Contains(strings.ToLower(e.LastLine), "error")
}

// Supervisor starts encoder processes and reports their output to a Sink.
type Supervisor struct {
	cfg     Config
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewSupervisor returns a Supervisor. Empty Config fields get defaults.
func NewSupervisor(cfg Config, sink Sink, log *slog.Logger, m *metrics.Metrics) *Supervisor {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.Profile == (Profile{}) {
		cfg.Profile = DefaultProfile()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Supervisor{
		cfg:     cfg,
		sink:    sink,
		logger:  logger.WithComponent(log, "encoder"),
		metrics: m,
	}
}

// Handle is the one process started by Start. Stop acts on this process only.
type Handle struct {
	sup  *Supervisor
	job  Job
	cmd  *exec.Cmd
	done chan struct{}

	stopRequested atomic.Bool
	stopOnce      sync.Once

	mu   sync.Mutex
	exit *Exit
}

// Start launches ffmpeg for job. Output is read on a separate goroutine, so
// Start returns as soon as the process is running.
func (s *Supervisor) Start(ctx context.Context, job Job) (*Handle, error) {
	if job.VideoPath == "" || job.StreamKey == "" || job.IngestURL == "" {
		return nil, &ProcessError{Op: "start", Err: ErrInvalidJob}
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &ProcessError{Op: "start", Err: err}
	}

	cmd := exec.Command(s.cfg.FFmpegPath, s.cfg.Profile.Args(job)...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := child_process_manager.ConfigureCommand(cmd); err != nil {
		s.logger.Warn("configure child process", slog.Any("error", err))
	}
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, &ProcessError{Op: "start", Err: err}
	}
	_ = pw.Close()
	if err := child_process_manager.AddChildProcess(cmd.Process); err != nil {
		s.logger.Warn("register child process", slog.Any("error", err))
	}

	h := &Handle{sup: s, job: job, cmd: cmd, done: make(chan struct{})}
	s.logger.Info("encoder started",
		slog.String("session_id", job.SessionID),
		slog.Int("pid", cmd.Process.Pid),
		slog.String("video", job.VideoPath),
	)
	go h.run(context.WithoutCancel(ctx), pr)
	return h, nil
}

func (h *Handle) run(ctx context.Context, pr *os.File) {
	drained := make(chan string, 1)
	go func() { drained <- h.drain(ctx, pr) }()

	waitErr := h.cmd.Wait()

	var last string
	select {
	case last = <-drained:
	case <-time.After(drainTimeout):
		_ = pr.Close()
		last = <-drained
	}
	_ = pr.Close()

	exit := Exit{
		Code:          h.cmd.ProcessState.ExitCode(),
		Status:        h.cmd.ProcessState.String(),
		StopRequested: h.stopRequested.Load(),
		LastLine:      last,
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		exit.Err = waitErr
	}

	h.recordExit(ctx, exit)

	h.mu.Lock()
	h.exit = &exit
	h.mu.Unlock()

	if h.job.OnExit != nil {
		h.job.OnExit(exit)
	}
	close(h.done)
}

// drain forwards every output line to the sink and returns the last one.
func (h *Handle) drain(ctx context.Context, r io.Reader) string {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	sc.Split(scanLines)

	var last string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		last = line
		h.sup.sink.Record(ctx, store.Event{
			SessionID: h.job.SessionID,
			Kind:      store.KindEncoderOutput,
			Message:   line,
			VideoFile: h.job.VideoPath,
		})
		h.sup.metrics.IncEncoderLines()
	}
	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		h.sup.logger.Warn("encoder output", slog.String("session_id", h.job.SessionID), slog.Any("error", err))
		_, _ = io.Copy(io.Discard, r)
	}
	return last
}

func (h *Handle) recordExit(ctx context.Context, exit Exit) {
	ev := store.Event{SessionID: h.job.SessionID, VideoFile: h.job.VideoPath}
	attrs := []any{
		slog.String("session_id", h.job.SessionID),
		slog.String("status", exit.Status),
		slog.Bool("stop_requested", exit.StopRequested),
	}
	switch {
	case exit.StopRequested:
		ev.Kind = store.KindInfo
		ev.Message = "Encoder stopped on request (" + exit.Status + ")"
		h.sup.logger.Info("encoder stopped", attrs...)
	case exit.Clean():
		ev.Kind = store.KindInfo
		ev.Message = "Encoder finished (" + exit.Status + ")"
		h.sup.logger.Info("encoder finished", attrs...)
	default:
		ev.Kind = store.KindError
		ev.Message = "Encoder exited abnormally (" + exit.Status + ")"
		if exit.Err != nil {
			ev.Message += ": " + exit.Err.Error()
		}
		if exit.LastLine != "" {
			ev.Message += "; last output: " + exit.LastLine
		}
		h.sup.logger.Error("encoder exited abnormally", append(attrs, slog.String("last_line", exit.LastLine))...)
	}
	h.sup.sink.Record(ctx, ev)
}

// Stop interrupts the process, waits for the grace period, then kills it.
// It returns after the exit was recorded and OnExit has run, or when ctx ends
// first. Calling Stop on an exited handle is a no-op.
func (h *Handle) Stop(ctx context.Context) error {
	h.stopRequested.Store(true)
	select {
	case <-h.done:
		return nil
	default:
	}

	h.stopOnce.Do(func() { go h.terminate() })

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) terminate() {
	proc := h.cmd.Process
	if err := proc.Signal(os.Interrupt); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return
		}
		h.sup.logger.Warn("interrupt encoder", slog.Int("pid", proc.Pid), slog.Any("error", err))
	}

	timer := time.NewTimer(h.sup.cfg.StopGrace)
	defer timer.Stop()
	select {
	case <-h.done:
		return
	case <-timer.C:
	}

	h.sup.logger.Warn("encoder ignored interrupt, killing",
		slog.Int("pid", proc.Pid),
		slog.Duration("grace", h.sup.cfg.StopGrace),
	)
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		h.sup.logger.Error("kill encoder", slog.Int("pid", proc.Pid), slog.Any("error", err))
	}
}

// Done is closed after the process exited and OnExit returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exit returns the exit description once the process has ended.
func (h *Handle) Exit() (Exit, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exit == nil {
		return Exit{}, false
	}
	return *h.exit, true
}

// PID is the operating system process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// SessionID is the session the process streams for.
func (h *Handle) SessionID() string { return h.job.SessionID }
