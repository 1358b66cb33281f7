package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duerelay/duerelay/internal/infrastructure/postgres"
)

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.UsePostgres() {
		return errors.New("DATABASE_URL is not set; the bbolt store needs no migrations")
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer pool.Close()

	applied, err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	logger.Info().Strs("applied", applied).Msg("migrations complete")
	return nil
}
