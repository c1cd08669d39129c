package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerline/erpbackup/internal/backup"
)

var (
	backupName        string
	backupIncludeLogs bool

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Create a point-in-time backup of the ERP instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cfg, _, err := newService(cmd.Context())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Backup.Timeout)
			defer cancel()

			result, err := svc.Create(ctx, backup.CreateOptions{
				Name:        backupName,
				IncludeLogs: backupIncludeLogs || cfg.Backup.IncludeLogs,
			})
			if err != nil {
				return err
			}

			fmt.Printf("backup complete: %s (%d bytes)\n", result.Name, result.SizeBytes)
			for _, w := range result.Warnings {
				fmt.Printf("warning: %s\n", w)
			}
			return nil
		},
	}
)

func init() {
	backupCmd.Flags().
		StringVarP(&backupName, "name", "n", "", "artifact name (default derived from the current time)")
	backupCmd.Flags().
		BoolVar(&backupIncludeLogs, "include-logs", false, "bundle the logs tree into the artifact")
}
