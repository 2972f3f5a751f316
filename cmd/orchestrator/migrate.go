package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/config"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/logging"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the workflow tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate()
	},
}

func runMigrate() error {
	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, repository.Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("Schema applied")
	return nil
}
