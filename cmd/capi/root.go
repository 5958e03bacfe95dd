package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go.appointy.com/capi/config"
)

// rootOptions holds the settings shared by all commands. Config is loaded
// before a command runs and flags set on the command line override it.
type rootOptions struct {
	Config  *config.Config
	Logger  *slog.Logger
	Verbose bool

	databaseURL string
	schema      string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "capi",
		Short:         "GraphQL API generated from a relational schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("database-url") {
				cfg.DatabaseURL = opts.databaseURL
			}
			if flags.Changed("schema") {
				cfg.Schema = opts.schema
			}
			opts.Config = cfg
			opts.Logger = newLogger(opts.Verbose)
			slog.SetDefault(opts.Logger)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log debug messages")
	cmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "Postgres connection string (DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.schema, "schema", "", "schema to expose (CAPI_SCHEMA)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newWorkerCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newAddJobCommand(opts))
	return cmd
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
