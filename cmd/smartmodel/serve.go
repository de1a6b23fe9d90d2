package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nstogner/smartmodel/pkg/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and websocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := a.GeneratorClient(ctx)
			if err != nil {
				return err
			}
			r, err := a.Runner(ctx)
			if err != nil {
				return err
			}
			reg, err := a.Shapes()
			if err != nil {
				return err
			}
			history, err := a.Store()
			if err != nil {
				return err
			}
			genOpts, err := a.GeneratorOptions()
			if err != nil {
				return err
			}
			collector, gatherer := a.Metrics()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := server.New(server.Config{
				Client:           client,
				Runner:           r,
				Registry:         reg,
				Store:            history,
				Events:           a.Events(),
				Logs:             a.Logs(),
				Metrics:          collector,
				Gatherer:         gatherer,
				GeneratorOptions: genOpts,
				Logger:           a.logger,
			})
			return srv.Start(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}
