package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/xtxerr/timering/config"
	"github.com/xtxerr/timering/internal/client"
	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/logging"
	"github.com/xtxerr/timering/internal/wire"
)

// SendCommand returns the 'send' subcommand.
func SendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send a frame file to a running server",
		ArgsUsage: "[file]",
		Description: `Reads length-delimited batch frames from file (stdin when omitted) and
sends them, waiting for each ack. --batch-size re-splits the samples of every
frame. A lost connection is re-dialed up to --retries times. Stops at the
first rejected batch unless --keep-going is set.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "server address",
				Value: config.DefaultListen,
			},
			&cli.BoolFlag{
				Name:  "tls",
				Usage: "connect with TLS",
			},
			&cli.BoolFlag{
				Name:  "tls-skip-verify",
				Usage: "skip certificate verification",
			},
			&cli.IntFlag{
				Name:  "max-frame-size",
				Usage: "largest accepted frame in bytes",
				Value: config.DefaultMaxFrameSize,
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "samples per batch (0 keeps the frames as read)",
			},
			&cli.IntFlag{
				Name:  "retries",
				Usage: "reconnect attempts after a lost connection",
				Value: 3,
			},
			&cli.BoolFlag{
				Name:  "keep-going",
				Usage: "skip batches rejected as out of order or of the wrong dimension",
			},
		},
		Action: runSend,
	}
}

type sendOptions struct {
	batchSize int
	retries   int
	keepGoing bool
}

type sendStats struct {
	samples  int
	batches  int
	rejected int
}

func runSend(ctx context.Context, cmd *cli.Command) error {
	in, closeIn, err := openInput(cmd.Args().First())
	if err != nil {
		return err
	}
	defer closeIn()

	cfg := client.DefaultConfig()
	cfg.Addr = cmd.String("addr")
	cfg.TLS = cmd.Bool("tls")
	cfg.TLSSkipVerify = cmd.Bool("tls-skip-verify")
	cfg.MaxFrameSize = cmd.Int("max-frame-size")

	c := client.New(cfg)
	c.OnDisconnect(func(err error) {
		logging.Warn("connection lost", "addr", cfg.Addr, "error", err)
	})
	if err := c.ConnectWithContext(ctx); err != nil {
		return err
	}
	defer c.Close()

	opts := sendOptions{
		batchSize: cmd.Int("batch-size"),
		retries:   cmd.Int("retries"),
		keepGoing: cmd.Bool("keep-going"),
	}
	st, err := sendFrames(ctx, c, wire.NewReaderSize(in, cfg.MaxFrameSize), opts)
	if err != nil {
		return err
	}

	fmt.Printf("sent %d samples in %d frames", st.samples, st.batches)
	if st.rejected > 0 {
		fmt.Printf(", %d batches rejected", st.rejected)
	}
	fmt.Println()
	return nil
}

// sendFrames sends every batch frame read from r.
func sendFrames(ctx context.Context, c *client.Client, r *wire.Reader, opts sendOptions) (sendStats, error) {
	var st sendStats
	for {
		f, err := r.Read()
		if err == io.EOF {
			return st, nil
		}
		if err != nil {
			return st, err
		}
		if f.Batch == nil || f.Batch.Len() == 0 {
			continue
		}
		if err := sendBatch(ctx, c, f.Batch, opts, &st); err != nil {
			return st, fmt.Errorf("frame %d: %w", f.Seq, err)
		}
		st.batches++
	}
}

// sendBatch sends the samples of b in batches of opts.batchSize.
func sendBatch(ctx context.Context, c *client.Client, b *wire.Batch, opts sendOptions, st *sendStats) error {
	samples := b.Samples()
	size := opts.batchSize
	if size <= 0 {
		size = len(samples)
	}

	attempts := 0
	for len(samples) > 0 {
		n, err := c.SendSamples(ctx, b.Dim, samples, size)
		st.samples += n
		samples = samples[n:]

		switch {
		case err == nil:
			return nil

		case opts.keepGoing && errors.IsContractViolation(err):
			skip := min(size, len(samples))
			samples = samples[skip:]
			st.rejected++
			logging.Warn("batch rejected, skipping", "samples", skip, "error", err)

		case lostConnection(err) && attempts < opts.retries:
			attempts++
			logging.Warn("reconnecting", "attempt", attempts, "error", err)
			if rerr := c.ReconnectWithContext(ctx); rerr != nil {
				return errors.Join(err, rerr)
			}

		default:
			return err
		}
	}
	return nil
}

func lostConnection(err error) bool {
	return errors.Is(err, client.ErrNotConnected) || errors.Is(err, client.ErrClientClosed)
}

// openInput opens path, or stdin for "" and "-".
func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
