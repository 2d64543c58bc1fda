package commands

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/crucible-sec/crucible/discovery"
	"github.com/crucible-sec/crucible/logger"
	"github.com/crucible-sec/crucible/registry"
)

// DiscoverCmd runs a single discovery sweep instead of the daemon's
// interval loop.
var DiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one tool discovery sweep",
	Long: `Run one tool discovery sweep over the configured execution containers.

Probes each running container for the known tool batteries, parses version
and help output, and syncs the results into the tool registry.

Examples:
  crucible discover
  crucible discover --config ./crucible.toml`,
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

		ch, _, err := buildExecutionStack(cfg, database)
		if err != nil {
			return err
		}

		agent := discovery.NewAgent(ch, registry.NewStore(database),
			cfg.Discovery, logger.Logger)

		spinner, _ := pterm.DefaultSpinner.Start("Sweeping execution containers...")
		stats, err := agent.Sweep(context.Background())
		if err != nil {
			spinner.Fail("Discovery sweep failed")
			return err
		}
		spinner.Success("Discovery sweep complete")

		pterm.DefaultTable.WithData(pterm.TableData{
			{"Targets", "Skipped", "Discovered", "Synced", "Failed", "Duration"},
			{
				pterm.Sprintf("%d", stats.Targets),
				pterm.Sprintf("%d", stats.Skipped),
				pterm.Sprintf("%d", stats.Discovered),
				pterm.Sprintf("%d", stats.Synced),
				pterm.Sprintf("%d", stats.Failed),
				stats.Duration.String(),
			},
		}).WithHasHeader().Render()
		return nil
	},
}
