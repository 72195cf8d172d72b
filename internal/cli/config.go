// Package cli holds the ringctl subcommands.
package cli

import (
	"fmt"
	"io/fs"

	"github.com/urfave/cli/v3"

	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/logging"
	"github.com/xtxerr/timering/internal/storage"
	"github.com/xtxerr/timering/internal/storage/config"
)

// configFlag is shared by every command that opens a storage service.
func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML config file (defaults apply when absent)",
		Value:   "timering.yaml",
	}
}

func dataDirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "data-dir",
		Usage: "data directory (overrides config)",
	}
}

// loadConfig reads the config named by --config. A missing file yields the
// defaults. --data-dir overrides the data directory. The global logger is
// initialized from the result.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = config.DefaultConfig()
	}

	if dir := cmd.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)
	return cfg, nil
}

// openService loads the config and creates a storage service. start also
// starts it.
func openService(cmd *cli.Command, start bool) (*storage.Service, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	svc, err := storage.New(cfg)
	if err != nil {
		return nil, err
	}
	if start {
		if err := svc.Start(); err != nil {
			svc.Close()
			return nil, err
		}
	}
	return svc, nil
}
