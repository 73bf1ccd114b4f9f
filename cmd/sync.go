package cmd

import (
	"context"
	"fmt"

	"github.com/chxlky/boardsync/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncOnce bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the GitHub relay into a running server",
	Long: `Poll the GitHub relay on the configured interval and forward each pending
event to the server's intake endpoint (sync.intake_url). The server must be
running on the same host.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncOnce, "once", false, "run a single poll cycle and exit")
}

func runSync(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateRelay(); err != nil {
		return err
	}

	db, err := database.Open(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Error("Error closing database", zap.Error(err))
		}
	}()

	poller, err := newPoller(database.NewStore(db))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if syncOnce {
		stats, err := poller.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "listed=%d applied=%d skipped=%d failed=%d dead_lettered=%d\n",
			stats.Listed, stats.Applied, stats.Skipped, stats.Failed, stats.DeadLettered)
		return nil
	}

	if err := poller.Start(ctx); err != nil {
		return err
	}
	waitForShutdown(func() {
		poller.Stop()
		cancel()
	})
	return nil
}
