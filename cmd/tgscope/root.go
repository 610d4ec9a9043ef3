package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/danhigham/tgscope/internal/app"
	"github.com/danhigham/tgscope/internal/config"
	"github.com/danhigham/tgscope/internal/gateway"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "tgscope",
		Short:         "Authorize Telegram accounts and read their groups and channels",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", filepath.Join(config.Dir(), "config.yaml"), "path to config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newSendCodeCmd(opts),
		newSignInCmd(opts),
		newStatusCmd(opts),
		newChatsCmd(opts),
		newMessagesCmd(opts),
		newLogoutCmd(opts),
	)
	return rootCmd
}

// withService builds the process graph, runs fn against the gateway and
// tears everything down again.
func withService(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, svc *gateway.Service) error) error {
	params, err := opts.params()
	if err != nil {
		return err
	}
	var svc *gateway.Service
	fxApp := fx.New(app.Options(params), fx.Populate(&svc))
	if err := fxApp.Err(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := fxApp.Start(ctx); err != nil {
		return err
	}
	runErr := fn(ctx, svc)
	stopErr := fxApp.Stop(context.WithoutCancel(ctx))
	return errors.Join(runErr, stopErr)
}

func (o *rootOptions) params() (app.Params, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return app.Params{}, explainConfigError(o.configPath, err)
	}
	return app.Params{ConfigPath: o.configPath, Config: cfg, LogLevel: o.logLevel}, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const configHint = `

Create the config file with:
  mkdir -p %s
  cat > %s << 'EOF'
telegram:
  api_id: YOUR_API_ID
  api_hash: "YOUR_API_HASH"
EOF

or set TELEGRAM_API_ID and TELEGRAM_API_HASH.
Get API credentials from https://my.telegram.org`

func explainConfigError(path string, err error) error {
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return fmt.Errorf("%w"+configHint, err, filepath.Dir(path), path)
}
