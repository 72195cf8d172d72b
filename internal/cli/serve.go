package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/xtxerr/timering/internal/logging"
	"github.com/xtxerr/timering/internal/server"
)

// ServeCommand returns the 'serve' subcommand.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Accept batch frames over TCP and store them",
		Description: `Starts the storage service from --config and an ingest server on
server.listen. Runs until SIGINT or SIGTERM, then flushes and exits.`,
		Flags: []cli.Flag{
			configFlag(),
			dataDirFlag(),
			&cli.StringFlag{
				Name:  "listen",
				Usage: "listen address (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	svc, err := openService(cmd, true)
	if err != nil {
		return err
	}
	defer svc.Close()

	cfg := svc.Config()
	if addr := cmd.String("listen"); addr != "" {
		cfg.Server.Listen = addr
	}

	srv := server.New(cfg.Server, cfg.Wire.MaxFrameSize, svc)
	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	logging.Info("timering serving", "address", srv.Addr().String(), "stream", svc.Stream())

	select {
	case <-ctx.Done():
		logging.Info("received signal, shutting down")
	case err := <-served:
		if err != nil {
			return err
		}
	}
	srv.Shutdown()

	st := srv.Stats()
	logging.Info("server stopped",
		"connections", st.Connections,
		"batches", st.Batches,
		"samples", st.Samples,
		"rejected", st.Rejected,
	)
	return nil
}
