package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/crucible-sec/crucible/channel"
)

var (
	execUser    string
	execWorkDir string
	execTimeout int
	execRetries int
)

// ExecCmd runs one command inside an execution container.
var ExecCmd = &cobra.Command{
	Use:   "exec <container> -- <command> [args...]",
	Short: "Run a command inside an execution container",
	Long: `Run a command inside a named execution container.

Output channels are demultiplexed: the command's stdout goes to stdout,
its stderr to stderr, and the process exit code becomes crucible's exit
code.

Examples:
  crucible exec pentest-tools -- nmap -sV 10.0.0.5
  crucible exec pentest-tools --user scanner -- nuclei -u http://10.0.0.5
  crucible exec bbot-scanner --timeout 3600 -- bbot -t example.com`,
	Args: cobra.MinimumNArgs(2),
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

		req := channel.Request{
			ContainerName: args[0],
			Argv:          args[1:],
			User:          execUser,
			WorkDir:       execWorkDir,
			Timeout:       time.Duration(execTimeout) * time.Second,
		}

		var res *channel.Result
		if execRetries > 0 {
			res, err = ch.ExecuteWithRetry(context.Background(), req, execRetries)
		} else {
			res, err = ch.Execute(context.Background(), req)
		}
		if err != nil {
			return err
		}

		fmt.Fprint(os.Stdout, res.Stdout)
		fmt.Fprint(os.Stderr, res.Stderr)
		if res.ExitCode != 0 {
			os.Exit(res.ExitCode)
		}
		return nil
	},
}

func init() {
	ExecCmd.Flags().StringVar(&execUser, "user", "", "User to run the command as")
	ExecCmd.Flags().StringVar(&execWorkDir, "workdir", "", "Working directory inside the container")
	ExecCmd.Flags().IntVar(&execTimeout, "timeout", 0, "Timeout in seconds (0 uses the configured default)")
	ExecCmd.Flags().IntVar(&execRetries, "retries", 0, "Retry attempts for retryable failures")
}
