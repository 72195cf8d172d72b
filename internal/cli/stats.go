package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// StatsCommand returns the 'stats' subcommand.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show resource estimates and export disk usage",
		Flags: []cli.Flag{
			configFlag(),
			dataDirFlag(),
		},
		Action: runStats,
	}
}

func runStats(ctx context.Context, cmd *cli.Command) error {
	svc, err := openService(cmd, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	cfg := svc.Config()
	req := cfg.CalculateRequirements()
	fmt.Print(req.FormatRequirements())

	fmt.Println("\nExport files:")
	for kind, u := range svc.GetDiskUsage() {
		fmt.Printf("  %-10s %6d files %12d bytes\n", kind, u.FileCount, u.TotalSize)
	}

	if n, err := svc.Count(ctx); err == nil {
		fmt.Printf("  exported samples: %d\n", n)
	}

	st := svc.Stats()
	fmt.Printf("\nHistory (%s): %d samples, dim %d, capacity %d\n",
		svc.Stream(), st.Buffer.Count, st.Buffer.Dim, st.Buffer.Capacity)
	return nil
}
