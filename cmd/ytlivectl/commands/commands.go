// Package commands implements ytlivectl, the offline admin tool that works
// directly on the orchestrator's store.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ytlive-orchestrator/internal/credentials"
	"ytlive-orchestrator/internal/platform/config"
	"ytlive-orchestrator/internal/platform/logger"
	"ytlive-orchestrator/internal/provisioner"
	"ytlive-orchestrator/internal/store"
)

type options struct {
	dsn      string
	logLevel string
	json     bool
}

// NewRoot builds the ytlivectl command tree. Settings are read from the
// environment when the command runs.
func NewRoot() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "ytlivectl",
		Short:        "Manage saved channels and inspect streaming history",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.dsn, "db", "", "store DSN (defaults to DATABASE_URL)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print JSON instead of a table")

	var state string
	authURL := &cobra.Command{
		Use:   "auth-url",
		Short: "Print the consent URL for authorizing a channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				conn, err := a.connector()
				if err != nil {
					return err
				}
				if state == "" {
					state = uuid.NewString()
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), conn.AuthURL(state))
				return err
			})
		},
	}
	authURL.Flags().StringVar(&state, "state", "", "OAuth state parameter (random when empty)")

	authorize := &cobra.Command{
		Use:   "authorize <code>",
		Short: "Exchange an authorization code and save the channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				conn, err := a.connector()
				if err != nil {
					return err
				}
				summary, err := conn.Authorize(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.printChannels(cmd.OutOrStdout(), []store.CredentialSummary{summary})
			})
		},
	}

	channels := &cobra.Command{
		Use:   "channels",
		Short: "List saved channels, most recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				list, err := credentials.NewCache(a.db).ListRecent(cmd.Context())
				if err != nil {
					return err
				}
				return a.printChannels(cmd.OutOrStdout(), list)
			})
		},
	}

	var (
		sessionLimit int
		openOnly     bool
	)
	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				list, err := a.db.ListSessions(cmd.Context(), store.SessionQuery{Limit: sessionLimit, OpenOnly: openOnly})
				if err != nil {
					return err
				}
				return a.printSessions(cmd.OutOrStdout(), list)
			})
		},
	}
	sessions.Flags().IntVar(&sessionLimit, "limit", 20, "maximum number of sessions")
	sessions.Flags().BoolVar(&openOnly, "open", false, "only sessions without an end time")

	var (
		eventLimit int
		sessionID  string
	)
	events := &cobra.Command{
		Use:   "events",
		Short: "Show recent events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if eventLimit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return withApp(cmd, opts, func(a *app) error {
				list, err := a.db.RecentEvents(cmd.Context(), store.EventQuery{SessionID: sessionID, Limit: eventLimit})
				if err != nil {
					return err
				}
				return a.printEvents(cmd.OutOrStdout(), list)
			})
		},
	}
	events.Flags().IntVar(&eventLimit, "limit", store.DefaultEventLimit, "maximum number of events")
	events.Flags().StringVar(&sessionID, "session", "", "only events of this session")

	root.AddCommand(authURL, authorize, channels, sessions, events)
	return root
}

type app struct {
	cfg  config.Settings
	log  *slog.Logger
	db   store.Store
	json bool
}

func withApp(cmd *cobra.Command, opts *options, fn func(*app) error) error {
	cfg := config.FromEnv()
	if opts.dsn != "" {
		cfg.DatabaseURL = opts.dsn
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), opts.logLevel, "text")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
		cmd.SetContext(ctx)
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	return fn(&app{cfg: cfg, log: log, db: db, json: opts.json})
}

func (a *app) connector() (*provisioner.Connector, error) {
	cache := credentials.NewCache(a.db)
	oauth, err := credentials.NewOAuth(a.cfg.OAuth, cache, a.log)
	if err != nil {
		return nil, err
	}
	return provisioner.NewConnector(oauth, cache,
		provisioner.WithConnectorLogger(a.log),
		provisioner.WithDefaultIngestURL(a.cfg.IngestURL),
	), nil
}

func (a *app) printChannels(w io.Writer, list []store.CredentialSummary) error {
	if a.json {
		return printJSON(w, list)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tCHANNEL ID\tLAST USED")
	for _, c := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ChannelName, c.ChannelID, formatTime(c.LastUsed))
	}
	return tw.Flush()
}

func (a *app) printSessions(w io.Writer, list []store.Session) error {
	if a.json {
		return printJSON(w, list)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATUS\tSTARTED\tENDED\tVIDEO")
	for _, s := range list {
		ended := "-"
		if s.EndedAt != nil {
			ended = formatTime(*s.EndedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Status, formatTime(s.StartTime), ended, s.VideoFile)
	}
	return tw.Flush()
}

func (a *app) printEvents(w io.Writer, list []store.Event) error {
	if a.json {
		return printJSON(w, list)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tSESSION\tMESSAGE")
	for _, ev := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", formatTime(ev.Timestamp), ev.Kind, ev.SessionID, ev.Message)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
