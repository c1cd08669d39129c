package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	listJSON bool

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List backup artifacts in the store, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, _, err := newService(cmd.Context())
			if err != nil {
				return err
			}

			entries, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}

			if listJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCREATED\tSIZE\tDIALECT\tCOMPANY")
			for _, e := range entries {
				dialect, company := "?", ""
				if e.Metadata != nil {
					dialect = e.Metadata.DBDialect
					company = e.Metadata.CompanySummary["name"]
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					e.Name, e.CreatedAt.Format(time.RFC3339), e.SizeBytes, dialect, company)
			}
			return w.Flush()
		},
	}
)

func init() {
	listCmd.Flags().
		BoolVar(&listJSON, "json", false, "print the listing as JSON")
}
