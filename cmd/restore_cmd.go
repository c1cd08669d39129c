package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerline/erpbackup/internal/backup"
)

var (
	restoreYes bool

	restoreCmd = &cobra.Command{
		Use:   "restore <name>",
		Short: "Replace the live ERP state with a backup artifact",
		Long: `restore verifies the artifact, takes a safety backup of the current
live state, then replaces the database and file trees with the
artifact's contents. The safety backup path is printed so the
pre-restore state can always be recovered.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !confirm(fmt.Sprintf("Restore %q over the live instance?", name), restoreYes) {
				fmt.Println("aborted")
				return nil
			}

			svc, _, _, err := newService(cmd.Context())
			if err != nil {
				return err
			}

			result, err := svc.Restore(cmd.Context(), name)
			if result != nil && result.SafetyBackupPath != "" {
				fmt.Printf("safety backup: %s\n", result.SafetyBackupPath)
			}
			if err != nil {
				var rerr *backup.RestoreError
				if errors.As(err, &rerr) {
					return fmt.Errorf("restore failed at step %q; the pre-restore state is preserved in the safety backup: %w",
						rerr.Step, rerr.Err)
				}
				return err
			}

			fmt.Printf("restore complete: %s\n", name)
			return nil
		},
	}
)

func init() {
	restoreCmd.Flags().
		BoolVarP(&restoreYes, "yes", "y", false, "skip the confirmation prompt")
}
