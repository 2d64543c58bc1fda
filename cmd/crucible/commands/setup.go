// Package commands implements the crucible CLI subcommands.
package commands

import (
	"database/sql"

	"github.com/crucible-sec/crucible/channel"
	"github.com/crucible-sec/crucible/config"
	"github.com/crucible-sec/crucible/db"
	"github.com/crucible-sec/crucible/logger"
	"github.com/crucible-sec/crucible/registry"
	"github.com/crucible-sec/crucible/runtime"
)

// ConfigPath overrides config discovery when set via --config.
var ConfigPath string

func loadConfig() (*config.Config, error) {
	if ConfigPath != "" {
		return config.LoadFromFile(ConfigPath)
	}
	return config.Load()
}

// openDatabase opens the configured SQLite database with migrations
// applied.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// buildExecutionStack wires the container runtime, execution channel, and
// tool router shared by most commands.
func buildExecutionStack(cfg *config.Config, database *sql.DB) (*channel.Channel, *registry.Router, error) {
	rt, err := runtime.NewDockerRuntime()
	if err != nil {
		return nil, nil, err
	}

	ch := channel.New(rt, cfg.Execution, logger.Logger)
	router := registry.NewRouter(registry.NewStore(database), ch, rt,
		cfg.Router, cfg.Discovery.Targets, logger.Logger)
	return ch, router, nil
}
