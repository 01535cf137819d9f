// Package cli implements the operator command line: inspecting organizations,
// tasks and the sync log, and requesting imports.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
)

// NewRootCommand creates the root command for the CLI
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "finsync",
		Short: "FinSync CLI - Inspect and control the sync daemon's task store",
		Long: `FinSync CLI provides commands to inspect organizations, sync tasks and the
sync log, and to request high-priority imports. Commands talk directly to the
task store database; the daemon picks new tasks up on its next dispatch tick.

Examples:
  finsync orgs list
  finsync tasks list --limit 10
  finsync tasks create --integration 42 --since 2024-03-01
  finsync logs list --limit 50`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to config file (default: search standard locations)")

	// Add command groups
	rootCmd.AddCommand(NewOrgsCommand())
	rootCmd.AddCommand(NewTasksCommand())
	rootCmd.AddCommand(NewLogsCommand())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
