package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/finlake/finsync/internal/adapters/persistence"
)

// NewOrgsCommand creates the orgs command with subcommands
func NewOrgsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orgs",
		Short: "Inspect syncable organizations",
		Long: `Inspect the organizations the dispatcher rotates over.

An organization is syncable when it has at least one integration; an
integration only imports when its provider credentials are complete.

Examples:
  finsync orgs list`,
	}

	// Add subcommands
	cmd.AddCommand(newOrgsListCommand())

	return cmd
}

// newOrgsListCommand creates the orgs list subcommand
func newOrgsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List syncable organizations with their integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer closeDatabase(db)

			orgs, err := persistence.NewOrganizationRepository(db).ListSyncable(cmd.Context())
			if err != nil {
				return err
			}
			if len(orgs) == 0 {
				fmt.Println("No syncable organizations found.")
				return nil
			}
			integrations := persistence.NewIntegrationRepository(db)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tINTEGRATIONS\tCREDENTIALED\tPROVIDERS")
			for i := range orgs {
				o := &orgs[i]
				list, err := integrations.ListByOrg(cmd.Context(), o.ID)
				if err != nil {
					return fmt.Errorf("failed to list integrations for organization %d: %w", o.ID, err)
				}
				credentialed := 0
				var kinds []string
				for _, integration := range list {
					if integration.HasCredentials() {
						credentialed++
					}
					kinds = append(kinds, string(integration.Kind))
				}
				providers := "-"
				if len(kinds) > 0 {
					providers = strings.Join(kinds, ",")
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n", o.ID, o.Name, len(list), credentialed, providers)
			}
			return w.Flush()
		},
	}

	return cmd
}
