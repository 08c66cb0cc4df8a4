// Command sk-server runs the account API behind the sessionkit client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/sessionkit/internal/config"
	"github.com/and161185/sessionkit/internal/migrate"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "sk-server:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sk-server",
		Short:         "Account API server (HTTP + gRPC health)",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().String("config", "", "YAML config file")
	root.PersistentFlags().String("dsn", "", "PostgreSQL DSN")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "sk-server %s (%s)\n", version, buildDate)
			return err
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Dev)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if err := migrate.Up(cmd.Context(), cfg.DSN, logger); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			v, err := migrate.Version(cmd.Context(), cfg.DSN)
			if err != nil {
				return err
			}
			logger.Info("schema up to date", zap.Int64("version", v))
			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command) (config.Server, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.LoadServer(path, cmd.Flags())
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
