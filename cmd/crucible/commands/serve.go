package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crucible-sec/crucible/discovery"
	"github.com/crucible-sec/crucible/logger"
	"github.com/crucible-sec/crucible/pipeline"
	"github.com/crucible-sec/crucible/registry"
	"github.com/crucible-sec/crucible/server"
)

// ServeCmd starts the full daemon: discovery agent, pipeline orchestrator,
// and the HTTP/WebSocket surface.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Crucible daemon",
	Long: `Start the Crucible daemon.

Runs the tool discovery agent on its configured interval, registers the
pipeline cascade triggers on the event bus, and serves the JSON API plus
the WebSocket event stream.

Examples:
  crucible serve
  crucible serve --config ./crucible.toml --json-logs`,
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

		ch, router, err := buildExecutionStack(cfg, database)
		if err != nil {
			return err
		}

		bus := pipeline.NewBus(logger.Logger)
		ops := pipeline.NewStore(database)

		engine := pipeline.NewTemplateEngine(cfg.Workflows,
			pipeline.NewTemplateRunner(router, logger.Logger), logger.Logger)
		scans := pipeline.NewScanLauncher(ops, bus, router, logger.Logger)
		reporter := pipeline.ReporterFunc(func(ctx context.Context, operationID string) error {
			logger.Infow("Vulnerability report poll requested", "operation_id", operationID)
			return nil
		})

		orch := pipeline.NewOrchestrator(bus, ops, cfg.Pipeline,
			engine, scans, scans, reporter, logger.Logger)
		orch.Register()

		agent := discovery.NewAgent(ch, registry.NewStore(database),
			cfg.Discovery, logger.Logger)
		if err := agent.Start(); err != nil {
			return err
		}

		srv := server.New(cfg.Server, bus, router, ops, logger.Logger)
		if err := srv.Start(); err != nil {
			agent.Stop()
			return err
		}

		ctx := context.Background()
		bus.Publish(ctx, pipeline.Event{Name: pipeline.EventSystemInitialized})

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Infow("Shutting down", "signal", sig.String())

		bus.Publish(ctx, pipeline.Event{Name: pipeline.EventSystemShutdown})
		agent.Stop()
		if err := srv.Stop(ctx); err != nil {
			logger.Warnw("Server shutdown failed", "error", err)
		}
		bus.Drain()
		return nil
	},
}
