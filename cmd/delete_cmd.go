package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	deleteYes bool

	deleteCmd = &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a backup artifact from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !confirm(fmt.Sprintf("Delete artifact %q?", name), deleteYes) {
				fmt.Println("aborted")
				return nil
			}

			svc, _, _, err := newService(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Delete(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", name)
			return nil
		},
	}
)

func init() {
	deleteCmd.Flags().
		BoolVarP(&deleteYes, "yes", "y", false, "skip the confirmation prompt")
}
