package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chxlky/boardsync/api"
	"github.com/chxlky/boardsync/apply"
	"github.com/chxlky/boardsync/database"
	"github.com/chxlky/boardsync/feed"
	"github.com/chxlky/boardsync/integrations"
	"github.com/chxlky/boardsync/relay"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the board server",
	Long: `Run the HTTP server: the kanban API, the loopback-only sync intake and the
GitHub webhook receiver. With sync.enabled the relay poller runs in-process.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	store := database.NewStore(db)

	var observers []apply.Observer

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Redis unreachable; change feed will retry on each event", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		pingCancel()
		observers = append(observers, feed.NewPublisher(redisClient, cfg.Redis.Channel))
		logger.Info("Publishing applied events to Redis", zap.String("channel", cfg.Redis.Channel))
	}

	var mirror *integrations.CalendarMirror
	if cfg.Google.CalendarEnabled() {
		svc, err := integrations.NewCalendarService(ctx, cfg.Google)
		if err != nil {
			return fmt.Errorf("failed to initialise Google Calendar client: %w", err)
		}
		mirror = integrations.NewCalendarMirror(svc, cfg.Google.CalendarID, store, logger.Named("calendar"))
		observers = append(observers, mirror)
		logger.Info("Successfully authenticated with Google Calendar API.")
	}

	handler := &api.Handler{
		Store:         store,
		Applier:       apply.New(store, logger.Named("apply"), observers...),
		Calendar:      mirror,
		WebhookSecret: []byte(cfg.GitHub.WebhookSecret),
		Logger:        logger,
	}
	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: api.NewRouter(handler),
	}

	logger.Info("Starting server", zap.String("addr", srv.Addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	var poller *relay.Poller
	if cfg.Sync.Enabled {
		poller, err = newPoller(store)
		if err != nil {
			return err
		}
		if err := poller.Start(ctx); err != nil {
			return err
		}
	}

	waitForShutdown(func() {
		if poller != nil {
			poller.Stop()
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		logger.Info("Shutting down HTTP server...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down server", zap.Error(err))
		} else {
			logger.Info("HTTP server shut down gracefully.")
		}

		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Error("Error closing Redis client", zap.Error(err))
			}
		}
		if err := database.Close(db); err != nil {
			logger.Error("Error closing database", zap.Error(err))
		} else {
			logger.Info("Database connection closed.")
		}
	})
	return nil
}

// newPoller wires the GitHub relay, the intake client and the failure
// tracker from the loaded config.
func newPoller(store *database.Store) (*relay.Poller, error) {
	if err := cfg.ValidateRelay(); err != nil {
		return nil, err
	}
	client, err := integrations.NewGitHubClient(cfg.GitHub, nil)
	if err != nil {
		return nil, err
	}
	rel := integrations.NewGitHubRelay(client, cfg.GitHub, cfg.Sync)
	intake := integrations.NewIntakeClient(cfg.Sync.IntakeURL, cfg.Sync.ForwardTimeout)
	return relay.New(rel, intake, store, cfg.Sync, logger.Named("relay")), nil
}
