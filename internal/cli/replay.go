package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// ReplayCommand returns the 'replay' subcommand.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Ingest a frame file into the store",
		ArgsUsage: "[file]",
		Description: `Decodes length-delimited batch frames from file (stdin when omitted),
ingests them and exports everything before exiting.`,
		Flags: []cli.Flag{
			configFlag(),
			dataDirFlag(),
		},
		Action: runReplay,
	}
}

func runReplay(ctx context.Context, cmd *cli.Command) error {
	in, closeIn, err := openInput(cmd.Args().First())
	if err != nil {
		return err
	}
	defer closeIn()

	svc, err := openService(cmd, true)
	if err != nil {
		return err
	}

	res, err := svc.Replay(ctx, in)
	if closeErr := svc.Close(); err == nil {
		err = closeErr
	}
	fmt.Printf("frames=%d error_frames=%d ingested=%d out_of_order=%d dimension_mismatch=%d\n",
		res.Frames, res.ErrorFrames, res.Ingested, res.OutOfOrder, res.DimensionMismatch)
	return err
}
