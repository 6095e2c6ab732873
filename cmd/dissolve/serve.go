package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/arkilian/dissolve/internal/app"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP (and optionally gRPC) dissolve service",
		Long: `Starts the dissolve service. POST /v1/dissolve accepts a JSON table and
dissolve options; /metrics exposes Prometheus metrics. The gRPC service
dissolve.v1.DissolveService is started when --grpc-addr is given or grpc.enabled
is set in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("http-addr") {
				cfg.HTTP.Addr, _ = flags.GetString("http-addr")
			}
			if flags.Changed("grpc-addr") {
				cfg.GRPC.Addr, _ = flags.GetString("grpc-addr")
				cfg.GRPC.Enabled = true
			}
			if flags.Changed("data-dir") {
				cfg.DataDir, _ = flags.GetString("data-dir")
				cfg.Storage.Path = ""
			}

			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := app.New(ctx, cfg, app.WithLogger(logger))
			if err != nil {
				return err
			}
			logger.Info("dissolve starting", "version", version, "commit", commit)
			return a.Run(ctx)
		},
	}
	cmd.Flags().String("http-addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().String("grpc-addr", "", "gRPC listen address; enables the gRPC service")
	cmd.Flags().String("data-dir", "", "Base directory for local storage")
	return cmd
}
