package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/studysync/studysync-go/internal/config"
	"github.com/studysync/studysync-go/internal/logging"
	"github.com/studysync/studysync-go/internal/repository"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "studysync",
		Short:         "StudySync AI backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), envFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), envFile)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "connect to the configured storage backend and report it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(envFile)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			name, err := repository.Probe(ctx, cfg)
			if err != nil {
				return fmt.Errorf("storage %q unreachable: %w", cfg.StorageDriver, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "storage backend: %s\n", name)
			return nil
		},
	})

	return rootCmd
}

// bootstrap loads the environment and builds the process logger.
func bootstrap(envFile string) (config.Config, *zap.Logger, error) {
	envErr := godotenv.Load(envFile)

	cfg, cfgErr := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return cfg, nil, fmt.Errorf("building logger: %w", err)
	}
	logging.SetFallback(logger)

	if envErr != nil {
		logger.Warn("no .env file found, using environment variables", zap.String("file", envFile))
	}
	if cfgErr != nil {
		return cfg, logger, cfgErr
	}
	return cfg, logger, nil
}
