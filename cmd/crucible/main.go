package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crucible-sec/crucible/cmd/crucible/commands"
	"github.com/crucible-sec/crucible/logger"
)

var jsonLogs bool

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "Crucible - containerized security tool execution and scan automation",
	Long: `Crucible runs security tools inside isolated execution containers,
discovers what tools each container ships, and sequences multi-stage
scanning pipelines in response to scan completion events.

Available commands:
  serve      - Start the Crucible daemon (discovery agent, pipeline, API)
  discover   - Run one discovery sweep over the configured containers
  tools      - List the tool registry
  containers - Show execution container availability
  exec       - Run a command inside an execution container

Examples:
  crucible serve                       # Start the daemon
  crucible discover                    # One-shot tool discovery
  crucible tools                       # Show discovered tools
  crucible exec pentest-tools -- nmap -sV 10.0.0.5`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Path to crucible.toml")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.DiscoverCmd)
	rootCmd.AddCommand(commands.ToolsCmd)
	rootCmd.AddCommand(commands.ContainersCmd)
	rootCmd.AddCommand(commands.ExecCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
