package commands

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// ContainersCmd shows execution container availability.
var ContainersCmd = &cobra.Command{
	Use:   "containers",
	Short: "Show execution container availability",
	Long: `Show the live state of every configured execution container.

Examples:
  crucible containers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		_, router, err := buildExecutionStack(cfg, database)
		if err != nil {
			return err
		}

		data := pterm.TableData{{"Container", "Available", "State"}}
		for _, entry := range router.Availability(context.Background()) {
			available := pterm.Red("no")
			if entry.Available {
				available = pterm.Green("yes")
			}
			data = append(data, []string{entry.ContainerName, available, entry.State})
		}
		return pterm.DefaultTable.WithData(data).WithHasHeader().Render()
	},
}
