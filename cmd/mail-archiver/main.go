// Package main is the entry point for the mailbox archiver CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shineum/mail-archiver/internal/config"
	"github.com/shineum/mail-archiver/internal/graph"
	"github.com/shineum/mail-archiver/internal/recognize"
	"github.com/shineum/mail-archiver/internal/service"
	"github.com/shineum/mail-archiver/internal/storage"
)

func main() {
	var (
		configPath string
		userID     string
		dryRun     bool
	)

	rootCmd := &cobra.Command{
		Use:          "mail-archiver",
		Short:        "Archive Microsoft Graph mailbox messages as structured records",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file (optional)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "mailbox user ID or principal name (overrides configuration)")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch unread messages, archive them, and mark them read",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			setupLogger(cfg.Logging.Level)

			archiver, user, err := buildArchiver(cfg, userID, dryRun)
			if err != nil {
				return err
			}

			summary, err := archiver.ArchiveUser(signalContext(), user)
			if err != nil {
				return err
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d messages failed to archive", summary.Failed, summary.Fetched)
			}
			return nil
		},
	}
	fetchCmd.Flags().BoolVar(&dryRun, "dry-run", false, "render records to stdout instead of writing to disk")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the archive and mark every message unread again",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			setupLogger(cfg.Logging.Level)

			archiver, user, err := buildArchiver(cfg, userID, false)
			if err != nil {
				return err
			}

			summary, err := archiver.Reset(signalContext(), user)
			if err != nil {
				return err
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d messages failed to mark unread", summary.Failed)
			}
			return nil
		},
	}

	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "List the users of the tenant directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			setupLogger(cfg.Logging.Level)

			if !cfg.GraphConfigured() {
				return fmt.Errorf("GRAPH_TENANT_ID, GRAPH_CLIENT_ID, and GRAPH_CLIENT_SECRET are required")
			}

			client := graph.New(graph.Config{
				TenantID:     cfg.Graph.TenantID,
				ClientID:     cfg.Graph.ClientID,
				ClientSecret: cfg.Graph.ClientSecret,
			})

			users, err := client.ListUsers(signalContext())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPRINCIPAL\tMAIL")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.DisplayName, u.UserPrincipalName, u.Mail)
			}
			return w.Flush()
		},
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Summarize the records and attachments in the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			setupLogger(cfg.Logging.Level)

			report, err := recognize.Scan(cfg.Storage.Root)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
			return nil
		},
	}

	rootCmd.AddCommand(fetchCmd, resetCmd, usersCmd, scanCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildArchiver assembles the archive pipeline from configuration. The
// --user flag takes precedence over the configured mailbox user.
func buildArchiver(cfg *config.Config, userFlag string, dryRun bool) (*service.Archiver, string, error) {
	if !cfg.GraphConfigured() {
		return nil, "", fmt.Errorf("GRAPH_TENANT_ID, GRAPH_CLIENT_ID, and GRAPH_CLIENT_SECRET are required")
	}

	user := cfg.Mailbox.UserID
	if userFlag != "" {
		user = userFlag
	}
	if user == "" {
		return nil, "", fmt.Errorf("mailbox user is required (set MAILBOX_USER_ID or pass --user)")
	}

	client := graph.New(graph.Config{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
	})

	archiver := service.New(client, storage.New(cfg.Storage.Root), service.Options{
		PageSize:    cfg.Mailbox.PageSize,
		AllMessages: !cfg.Mailbox.UnreadOnly,
		DryRun:      dryRun,
	})

	return archiver, user, nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// signalContext returns a context cancelled on SIGTERM or SIGINT.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, cancelling", "signal", sig)
		cancel()
	}()

	return ctx
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
