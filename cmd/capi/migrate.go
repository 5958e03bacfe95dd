package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"go.appointy.com/capi/jobs"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Install the job queue and schema watch into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Config.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			db, err := sql.Open("postgres", opts.Config.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := jobs.Migrate(db); err != nil {
				return err
			}
			opts.Logger.Info("database migrated")
			return nil
		},
	}
}
