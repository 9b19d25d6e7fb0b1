package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	child_process_manager "github.com/AgustinSRG/go-child-process-manager"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"ytlive-orchestrator/internal/credentials"
	"ytlive-orchestrator/internal/encoder"
	"ytlive-orchestrator/internal/eventlog"
	"ytlive-orchestrator/internal/orchestrator"
	"ytlive-orchestrator/internal/platform/config"
	"ytlive-orchestrator/internal/platform/logger"
	"ytlive-orchestrator/internal/platform/metrics"
	"ytlive-orchestrator/internal/provisioner"
	"ytlive-orchestrator/internal/store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = config.Load()
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := child_process_manager.InitializeChildProcessManager(); err != nil {
		log.Error("child process manager", "error", err)
		os.Exit(1)
	}
	defer child_process_manager.DisposeChildProcessManager()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		child_process_manager.DisposeChildProcessManager()
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg config.Settings, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	met := metrics.New()
	events := eventlog.New(db, eventlog.WithLogger(log), eventlog.WithMetrics(met))
	cache := credentials.NewCache(db)

	var (
		auth    orchestrator.ChannelAuthorizer
		connect orchestrator.ProvisionerFactory
	)
	if cfg.OAuth.Configured() {
		oauth, err := credentials.NewOAuth(cfg.OAuth, cache, log)
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("oauth: %w", err)
		}
		conn := provisioner.NewConnector(oauth, cache,
			provisioner.WithConnectorLogger(log),
			provisioner.WithDefaultIngestURL(cfg.IngestURL),
		)
		auth = conn
		connect = func(ctx context.Context, cred store.ChannelCredential) (orchestrator.Provisioner, error) {
			return conn.Connect(ctx, cred)
		}
	} else {
		log.Warn("YOUTUBE_CLIENT_ID or YOUTUBE_CLIENT_SECRET not set; channel authorization disabled")
	}

	sup := encoder.NewSupervisor(encoder.Config{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		StopGrace:   cfg.StopGrace,
	}, events, log, met)

	svc := orchestrator.NewService(orchestrator.Config{
		MediaDir:          cfg.MediaDir,
		IngestURL:         cfg.IngestURL,
		StatusEvents:      cfg.StatusEventLimit,
		ProvisionTimeout:  cfg.ProvisionTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ScheduleDelay:     cfg.ScheduleDelay,
		DisableUploads:    !cfg.VideoUploads,
	}, orchestrator.Deps{
		Events:      events,
		Credentials: cache,
		Encoder:     sup,
		Connect:     connect,
		Logger:      log,
		Metrics:     met,
	})
	if n, err := svc.Recover(ctx); err != nil {
		log.Warn("session recovery failed", "error", err)
	} else if n > 0 {
		log.Info("marked interrupted sessions failed", "count", n)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log, "/status", "/healthz", "/metrics"))
	r.Use(metrics.RequestMiddleware(met))
	r.Handle("/metrics", met.Handler(func() { met.SetActiveSessions(svc.ActiveSessionCount()) }))
	orchestrator.NewHandler(svc, auth, log).Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting",
			"port", cfg.Port,
			"media_dir", cfg.MediaDir,
			"log_level", cfg.LogLevel,
			"oauth", cfg.OAuth.Configured(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")
		return shutdown(srv, svc, db)
	})
	return g.Wait()
}

// shutdown stops accepting requests, ends the active session and closes the
// store. svc.Close waits for a StartSession still provisioning, so its final
// events are written before the store goes away.
func shutdown(srv *http.Server, svc *orchestrator.Service, db store.Store) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var result *multierror.Error
	if err := srv.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
	}
	if err := svc.Close(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop session: %w", err))
	}
	if err := db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close store: %w", err))
	}
	return result.ErrorOrNil()
}
