package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <name>",
	Short: "Check an artifact's integrity without restoring it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, _, err := newService(cmd.Context())
		if err != nil {
			return err
		}

		report, err := svc.Verify(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !report.Valid {
			return fmt.Errorf("artifact %s is invalid: %s", args[0], report.Reason)
		}

		fmt.Printf("artifact %s is valid (%d members", args[0], report.MemberCount)
		if report.Metadata != nil {
			fmt.Printf(", %s, created %s", report.Metadata.DBDialect,
				report.Metadata.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Println(")")
		return nil
	},
}
