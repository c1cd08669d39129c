package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ledgerline/erpbackup/internal/schedule"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler, creating backups at the configured time",
	Long: `run blocks and fires a backup at every tick of backup.scheduled_time
("HH:MM" for daily, or a five-field cron expression). Stop with
SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cfg, log, err := newService(cmd.Context())
		if err != nil {
			return err
		}

		runner, err := schedule.NewRunner(svc, cfg, log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := runner.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info("scheduler stopped")
		return nil
	},
}
