package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/danhigham/tgscope/internal/app"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run in the foreground, sweeping expired login attempts until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := opts.params()
			if err != nil {
				return err
			}
			params.Sweep = true

			var logger *zap.Logger
			fxApp := fx.New(app.Options(params), fx.Populate(&logger))
			if err := fxApp.Err(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := fxApp.Start(ctx); err != nil {
				return err
			}
			logger.Info("tgscope running")
			<-ctx.Done()
			logger.Info("shutting down")
			return fxApp.Stop(cmd.Context())
		},
	}
}
