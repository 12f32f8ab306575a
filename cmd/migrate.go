package main

import (
	"github.com/spf13/cobra"

	"github.com/rryowa/cookie_auth/internal/migrations"
	"github.com/rryowa/cookie_auth/internal/util"

	_ "github.com/lib/pq"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := util.NewZapLogger()
			defer func() { _ = logger.Sync() }()

			db, cleanup, err := util.NewDBConnection(logger, util.NewDBConfig())
			if err != nil {
				return err
			}
			defer cleanup()

			return migrations.RunMigrations(db, logger)
		},
	}
}
