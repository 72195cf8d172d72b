package cli

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/xtxerr/timering/config"
	"github.com/xtxerr/timering/internal/shell"
	"github.com/xtxerr/timering/internal/storage"
	storageconfig "github.com/xtxerr/timering/internal/storage/config"
)

// ShellCommand returns the 'shell' subcommand.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Explore a history interactively or run a command script",
		Description: `Without --persist the shell works on an in-memory history sized by the
flags. With --persist it opens the storage service from --config, so
inserts go through the write-ahead log and are exported.

Stdin that is not a terminal is run as a script, one command per line.`,
		Flags: []cli.Flag{
			configFlag(),
			dataDirFlag(),
			&cli.BoolFlag{
				Name:  "persist",
				Usage: "open the storage service instead of a bare history",
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "history kind: ring or growable",
				Value: config.DefaultBufferKind,
			},
			&cli.IntFlag{
				Name:    "dim",
				Aliases: []string{"d"},
				Usage:   "components per sample",
				Value:   3,
			},
			&cli.IntFlag{
				Name:  "capacity",
				Usage: "ring capacity in samples",
				Value: config.DefaultBufferCapacity,
			},
			&cli.DurationFlag{
				Name:  "window",
				Usage: "growable trimming window (0 keeps everything)",
			},
		},
		Action: runShell,
	}
}

func runShell(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("persist") {
		svc, err := openService(cmd, true)
		if err != nil {
			return err
		}
		defer svc.Close()

		sh := shell.New(svc.History(), os.Stdout,
			shell.WithInserter(svc.Insert),
			shell.WithAccuracy(svc.Config().Aggregate.Accuracy),
		)
		return sh.Run(os.Stdin)
	}

	h, err := storage.NewHistory(storageconfig.BufferConfig{
		Kind:      cmd.String("kind"),
		Capacity:  cmd.Int("capacity"),
		Dimension: cmd.Int("dim"),
		Window:    cmd.Duration("window"),
	})
	if err != nil {
		return err
	}
	return shell.New(h, os.Stdout).Run(os.Stdin)
}
