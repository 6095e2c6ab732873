package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/arkilian/dissolve/internal/config"
	"github.com/arkilian/dissolve/internal/logging"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dissolve",
		Short: "Merge geometries by group key",
		Long: `dissolve groups the rows of a geometry table by key columns or index levels,
unions the geometries of each group and aggregates the other columns.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to a YAML or JSON configuration file")
	flags.String("env-file", "", "Path to a .env file loaded before DISSOLVE_ variables are read")
	flags.String("log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(newRunCmd(), newServeCmd(), newVersionCmd())
	return root
}

// loadConfig layers the config file and DISSOLVE_ environment variables
// over the defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			return nil, err
		}
	}

	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewWithWriter(cmd.ErrOrStderr(), level, cfg.Log.Format), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dissolve",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dissolve version %s (commit: %s)\n", version, commit)
		},
	}
}
