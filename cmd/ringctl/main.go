// ringctl stores, serves and inspects time-indexed sample histories.
package main

import (
	"context"
	"fmt"
	"os"

	cliframework "github.com/urfave/cli/v3"

	"github.com/xtxerr/timering/internal/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	app := &cliframework.Command{
		Name:    "ringctl",
		Usage:   "Time-indexed sample history store",
		Version: Version,
		Commands: []*cliframework.Command{
			cli.ShellCommand(),
			cli.ServeCommand(),
			cli.SendCommand(),
			cli.ReplayCommand(),
			cli.QueryCommand(),
			cli.StatsCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
