package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/chxlky/boardsync/integrations"
	"github.com/chxlky/boardsync/internal/events"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var applyCmd = &cobra.Command{
	Use:   "apply [file]",
	Short: "Send one event to the running server",
	Long: `Read a single JSON event from file (or stdin when omitted or "-") and post
it to the server's intake endpoint. Useful for replaying a dead-lettered unit
by hand.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func runApply(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading event: %w", err)
	}
	ev, err := events.Decode(raw)
	if err != nil {
		return err
	}
	payload, err := ev.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Sync.ForwardTimeout)
	defer cancel()

	intake := integrations.NewIntakeClient(cfg.Sync.IntakeURL, cfg.Sync.ForwardTimeout)
	if err := intake.Forward(ctx, payload); err != nil {
		return err
	}
	logger.Info("Event applied", zap.String("type", string(ev.Type)), zap.String("intake", cfg.Sync.IntakeURL))
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}
