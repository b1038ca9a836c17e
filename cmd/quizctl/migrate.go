package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quizmaster-backend/internal/config"
	"quizmaster-backend/internal/database"
	"quizmaster-backend/internal/logger"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for DATABASE_DRIVER / DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			log, err := logger.New(cfg.Env, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := database.Open(cmd.Context(), cfg.DatabaseDriver, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.RunMigrations(cmd.Context(), db, log); err != nil {
				return err
			}
			log.Info("✓ Database migrations applied", zap.String("driver", cfg.DatabaseDriver))
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
