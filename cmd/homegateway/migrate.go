package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/homegateway/migrations"

	"github.com/nerrad567/homegateway/internal/infrastructure/config"
	"github.com/nerrad567/homegateway/internal/infrastructure/database"
)

func newMigrateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	withDB := func(fn func(cmd *cobra.Command, db *database.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			db, err := database.Open(databaseConfig(cfg))
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()
			return fn(cmd, db)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, db *database.DB) error {
				if err := db.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, db *database.DB) error {
				if err := db.MigrateDown(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "latest migration rolled back")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, db *database.DB) error {
				applied, pending, err := db.GetMigrationStatus(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tSTATUS")
				for _, m := range applied {
					fmt.Fprintf(w, "%s\tapplied %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04"))
				}
				for _, m := range pending {
					fmt.Fprintf(w, "%s\tpending (%s)\n", m.Version, m.Name)
				}
				return w.Flush()
			}),
		},
	)
	return cmd
}

// databaseConfig maps the config section onto database.Config.
func databaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	}
}
