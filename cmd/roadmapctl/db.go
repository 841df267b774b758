package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"prdigy/api/internal/config"
	"prdigy/api/internal/store"
)

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations",
		Long: `Apply every migration in the configured directory that has not run yet.

Connection settings come from the same config file and environment as the API
server (PRDIGY_CONFIG_FILE, DATABASE_URL, PRDIGY_MIGRATIONS_DIR).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer db.Close()

			applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				printf(cmd.OutOrStdout(), "Database is up to date\n")
				return nil
			}
			for _, version := range applied {
				printf(cmd.OutOrStdout(), "applied %s\n", version)
			}
			return nil
		},
	})
	return cmd
}
