package main

import (
	"context"
	"strings"

	"rental-sync/internal/database"
	"rental-sync/internal/database/migration"
	dbpostgres "rental-sync/internal/database/postgres"
	"rental-sync/internal/database/seeder"

	"github.com/spf13/cobra"
)

var (
	seedOnly      []string
	migrateStatus bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQL migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(ctx context.Context, db database.DB) error {
			r := migration.Runner{Dir: cfg.MigrationsDir, Logger: logger}
			if !migrateStatus {
				return r.Run(ctx, db.SQLDB())
			}
			states, err := r.Status(ctx, db.SQLDB())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), states)
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load reference data such as the known markets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(ctx context.Context, db database.DB) error {
			only := make([]string, 0, len(seedOnly))
			for _, s := range seedOnly {
				if s = strings.TrimSpace(s); s != "" {
					only = append(only, s)
				}
			}
			return seeder.Runner{Seeders: seeder.Defaults(), Only: only, Logger: logger}.Run(ctx, db)
		})
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "list migrations and their state without applying")
	seedCmd.Flags().StringSliceVar(&seedOnly, "only", nil, "run only the named seeders")
}

func withDB(cmd *cobra.Command, fn func(ctx context.Context, db database.DB) error) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	db, err := dbpostgres.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return fn(ctx, db)
}
