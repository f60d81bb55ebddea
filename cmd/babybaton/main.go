package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"babybaton/internal/bootstrap"
	"babybaton/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, renderError(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "babybaton",
		Short:         "Log feeds, diapers and sleep by voice",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $BABYBATON_CONFIG or ~/.config/babybaton/config.yaml)")

	root.AddCommand(newLoginCmd(&configPath))
	root.AddCommand(newLogoutCmd(&configPath))
	root.AddCommand(newWhoamiCmd(&configPath))
	root.AddCommand(newRecordCmd(&configPath))
	root.AddCommand(newSayCmd(&configPath))
	root.AddCommand(newSessionsCmd(&configPath))
	return root
}

func loadServices(ctx context.Context, configPath string, cmd *cobra.Command) (bootstrap.Services, *terminalSink, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return bootstrap.Services{}, nil, err
		}
	}
	cfg, err := config.LoadPath(path)
	if err != nil {
		return bootstrap.Services{}, nil, err
	}

	sink := newTerminalSink(cmd.OutOrStdout())
	services, err := bootstrap.Build(ctx, bootstrap.Options{
		Events:       sink,
		SessionViews: sink,
		Permission:   consentPermission{},
		LogOutput:    cmd.ErrOrStderr(),
		Config:       &cfg,
	})
	if err != nil {
		return bootstrap.Services{}, nil, err
	}
	return services, sink, nil
}

// consentPermission grants microphone access: running `record` is the consent.
type consentPermission struct{}

func (consentPermission) Request(context.Context) (bool, error) { return true, nil }
