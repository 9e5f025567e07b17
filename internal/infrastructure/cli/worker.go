package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/coverloop/coverloop/internal/application/dispatch"
	"github.com/coverloop/coverloop/internal/domain/export"
	"github.com/coverloop/coverloop/internal/infrastructure/config"
	"github.com/coverloop/coverloop/internal/infrastructure/deadletter"
	"github.com/coverloop/coverloop/internal/infrastructure/eventstore"
	"github.com/coverloop/coverloop/internal/infrastructure/jobs"
	"github.com/coverloop/coverloop/internal/infrastructure/mail"
	"github.com/coverloop/coverloop/internal/infrastructure/releases"
	"github.com/coverloop/coverloop/internal/infrastructure/storage"
	"github.com/coverloop/coverloop/internal/infrastructure/templating"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the integration export worker",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Process integration export jobs until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(settingsPath)
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		deps := export.Dependencies{
			Logger:      logger,
			Renderer:    templating.NewEngine(),
			Mail:        mail.NewLogSender(logger),
			Files:       storage.NewFileStore(settings.StorageDir),
			JobParams:   jobs.NewParamStore(),
			DeadLetters: deadletter.NewStore(settings.DeadLetterPath),
			Environment: settings.Environment,
			HTTPTimeout: time.Duration(settings.HTTPTimeoutSeconds) * time.Second,
		}
		if settings.OAuth.TokenURL != "" {
			cc := clientcredentials.Config{
				ClientID:     settings.OAuth.ClientID,
				ClientSecret: settings.OAuth.ClientSecret,
				TokenURL:     settings.OAuth.TokenURL,
				Scopes:       settings.OAuth.Scopes,
			}
			deps.TokenSource = cc.TokenSource(cmd.Context())
		}

		eventLog, err := eventstore.NewStore(settings.EventLogPath)
		if err != nil {
			return err
		}

		resolver := releases.NewResolver(settings.ConfigDir, export.NewRegistries(), deps, nil, logger)
		handler := dispatch.NewHandler(resolver, eventLog, logger)
		queue := jobs.NewInMemoryQueue(settings.Worker.QueueBuffer, handler.Handle, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			if err := resolver.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("configuration watcher stopped", "error", err)
			}
		}()

		logger.Info("worker started",
			"environment", settings.Environment,
			"config_dir", settings.ConfigDir)
		if err := queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	workerCmd.AddCommand(workerRunCmd)
	RootCmd.AddCommand(workerCmd)
}
