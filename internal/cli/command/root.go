// Package command provides CLI command definitions for cypress-admin.
//
// It uses urfave/cli/v2 for command parsing.
package command

import (
	"github.com/urfave/cli/v2"

	"github.com/cypressdb/cypress-go/internal/config"
	"github.com/cypressdb/cypress-go/internal/infra/buildinfo"
	"github.com/cypressdb/cypress-go/internal/infra/confloader"
	"github.com/cypressdb/cypress-go/internal/telemetry/logger"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "cypress-admin",
		Usage:   "Cypress persistence engine management tool",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			InfoCommand(),
			VerifyCommand(),
			SnapshotCommand(),
			PurgeCommand(),
			InitCommand(),
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			EnvVars: []string{"CYPRESS_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-dir",
			Usage: "Transaction log data root (overrides config)",
		},
		&cli.StringFlag{
			Name:  "snap-dir",
			Usage: "Snapshot data root (overrides config)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
	}
}

// loadConfig builds the effective configuration from defaults, the
// optional config file, environment and flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()

	loader := confloader.NewLoader(confloader.WithConfigFile(c.String("config")))
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	if dir := c.String("log-dir"); dir != "" {
		cfg.Storage.LogDir = dir
	}
	if dir := c.String("snap-dir"); dir != "" {
		cfg.Storage.SnapDir = dir
	}
	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}

	if err := config.Verify(cfg); err != nil {
		return nil, err
	}

	lg, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(lg)
	return cfg, nil
}
