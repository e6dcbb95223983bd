package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	providerfactory "recap-gateway/internal/provider/factory"
	"recap-gateway/internal/server"
	"recap-gateway/internal/telemetry"
)

const telemetryFlushTimeout = 5 * time.Second

func newServeCommand(opts *globalOptions) *cobra.Command {
	var overridePort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Long:  `Serve /api/llm, /v1/chat/completions and the supporting endpoints over HTTP.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("port") {
				if overridePort <= 0 || overridePort > 65535 {
					return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
				}
				cfg.Server.Port = overridePort
			}

			shutdown, err := telemetry.Setup(cfg.Telemetry, nil, opts.logger)
			if err != nil {
				return fmt.Errorf("initialise telemetry: %w", err)
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
				defer cancel()
				if err := shutdown(flushCtx); err != nil {
					opts.logger.Warn("telemetry shutdown failed", "error", err)
				}
			}()

			gw, err := providerfactory.Build(cfg, opts.logger)
			if err != nil {
				return err
			}
			defer gw.Close()

			srv, err := server.New(gw, opts.logger)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&overridePort, "port", "p", 0, "override server port from configuration")
	return cmd
}
