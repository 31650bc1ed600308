package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/kaimel/archiver/internal/api"
	"github.com/kaimel/archiver/internal/delivery"
	"github.com/kaimel/archiver/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the archive delivery service",
	Long: `Run the HTTP delivery service in the foreground.

The server requires a bearer JWT on every request (mint one with
'archiver token') and exposes:

  GET    /mail                      the consumer's feed (JSON batch or NDJSON stream)
  GET    /mail/{id}                 one mail (JSON, text/plain, or message/rfc822)
  DELETE /mail/{id}                 remove the consumer's dispatch
  GET    /mail/{id}/attachment/{n}  one attachment, content-negotiated

When [janitor] is enabled in config.toml, mail that no dispatch references
is purged on the configured cron schedule.

Use Ctrl+C to stop the service gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// feedStore adapts *store.Store to delivery.Store: the concrete listener
// becomes the engine's Notifications interface.
type feedStore struct {
	*store.Store
}

func (f feedStore) Listen(ctx context.Context, consumerID int64) (delivery.Notifications, error) {
	return f.Store.Listen(ctx, consumerID)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateAuth(); err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	engine := delivery.New(feedStore{s}, logger).WithWaitTimeout(cfg.WaitTimeout())
	apiServer := api.NewServer(cfg, s, engine, logger)

	// Janitor: cron-scheduled purge of mail no dispatch references.
	var janitor *cron.Cron
	if cfg.Janitor.Enabled {
		janitor = cron.New()
		_, err := janitor.AddFunc(cfg.Janitor.Schedule, func() {
			n, err := s.PurgeOrphanMail(context.Background(), cfg.Retention())
			if err != nil {
				logger.Error("janitor purge failed", "error", err)
				return
			}
			if n > 0 {
				logger.Info("janitor purged unreferenced mail", "mails", n)
			}
		})
		if err != nil {
			return fmt.Errorf("janitor schedule %q: %w", cfg.Janitor.Schedule, err)
		}
		janitor.Start()
		defer janitor.Stop()
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	fmt.Printf("archiver started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(cfg.Server.BindAddr, strconv.Itoa(cfg.Server.Port)))
	if cfg.Janitor.Enabled {
		fmt.Printf("  Janitor: %s (retention %s)\n", cfg.Janitor.Schedule, cfg.Retention())
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		fmt.Println("\nShutting down...")
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}
	fmt.Println("Shutdown complete.")

	return nil
}
