package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/finlake/finsync/internal/adapters/persistence"
)

// NewLogsCommand creates the logs command with subcommands
func NewLogsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Read the sync log",
		Long: `Read the sync log.

Every dispatcher tick outcome, worker run and monitor intervention appends an
event here; this is the stream to check when a sync did not do what you
expected.

Examples:
  finsync logs list
  finsync logs list --limit 100`,
	}

	// Add subcommands
	cmd.AddCommand(newLogsListCommand())

	return cmd
}

// newLogsListCommand creates the logs list subcommand
func newLogsListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sync log events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer closeDatabase(db)

			events, err := persistence.NewLogRepository(db).Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("No log events found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTASK\tPROVIDER\tORG\tSTATUS\tDETAIL")
			for i := range events {
				e := &events[i]
				provider := string(e.Provider)
				if provider == "" {
					provider = "-"
				}
				org := "-"
				if e.OrgID != 0 {
					org = fmt.Sprintf("%d", e.OrgID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
					e.TaskName, provider, org, e.Status, e.Detail)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events to show")

	return cmd
}
