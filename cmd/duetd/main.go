package main

import (
	"fmt"
	"os"

	"github.com/matheus3301/duet/internal/config"
	"github.com/matheus3301/duet/internal/daemon"
	"github.com/matheus3301/duet/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	var (
		name     string
		logLevel string
		apiURL   string
		gateway  string
	)
	cmd := &cobra.Command{
		Use:           "duetd",
		Short:         "Session daemon: keeps one duet account in sync and serves it over a Unix socket",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name = session.Resolve(name)
			if err := session.ValidateName(name); err != nil {
				return err
			}
			cfg, err := config.LoadOrDefault(session.ConfigPath())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if apiURL != "" {
				cfg.APIURL = apiURL
			}
			if gateway != "" {
				cfg.GatewayURL = gateway
			}

			app := fx.New(
				daemon.Module(daemon.Params{SessionName: name, Config: cfg}),
				fx.NopLogger,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "session", "", "session name (overrides $DUET_SESSION and config default)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "REST base URL (overrides config)")
	cmd.Flags().StringVar(&gateway, "gateway-url", "", "event gateway URL (overrides config)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
