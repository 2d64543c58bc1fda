package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/crucible-sec/crucible/registry"
)

// ToolsCmd lists the tool registry.
var ToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List discovered tools",
	Long: `List the tool registry: every tool discovered in the execution
containers, with version, binary path, and container binding.

Examples:
  crucible tools`,
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

		tools, err := registry.NewStore(database).List()
		if err != nil {
			return err
		}
		if len(tools) == 0 {
			pterm.Info.Println("No tools discovered yet. Run 'crucible discover' first.")
			return nil
		}

		data := pterm.TableData{
			{"Tool", "Category", "Version", "Container", "Path", "Params"},
		}
		for _, tool := range tools {
			data = append(data, []string{
				tool.ToolID,
				tool.Category,
				tool.Version,
				tool.ContainerName,
				tool.BinaryPath,
				pterm.Sprintf("%d", len(tool.Parameters)),
			})
		}
		return pterm.DefaultTable.WithData(data).WithHasHeader().Render()
	},
}
