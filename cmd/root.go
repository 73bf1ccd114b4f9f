// Package cmd holds the boardsync command line.
package cmd

import (
	"os"

	"github.com/chxlky/boardsync/config"
	"github.com/chxlky/boardsync/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "boardsync",
	Short: "Local kanban board with a GitHub-issue sync relay",
	Long: `boardsync serves a small kanban board backed by SQLite and keeps it in
step with collaborators through a GitHub repository used as an event relay.

Each open issue carrying the sync label holds one JSON event. The poller
forwards it to the local intake endpoint and closes the issue once the event
has been applied.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		logger = logging.New(cfg.Log)
		zap.ReplaceGlobals(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./config.toml)")
	rootCmd.AddCommand(serveCmd, syncCmd, applyCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
