package main

import (
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/greenhospital/reporting/internal/app/storage/postgres"
	"github.com/greenhospital/reporting/internal/config"
	"github.com/greenhospital/reporting/internal/platform/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
	Long: `Manage the Postgres schema for the postgres driver.

Available subcommands:
  up      - Apply all pending migrations
  down    - Roll back migrations (all, or N steps)
  version - Show the applied schema version`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: withDB(func(cmd *cobra.Command, db *sqlx.DB, _ []string) error {
		if err := migrations.Up(db.DB); err != nil {
			return err
		}
		cmd.Println("schema is up to date")
		return nil
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back migrations",
	Args:  cobra.MaximumNArgs(1),
	RunE: withDB(func(cmd *cobra.Command, db *sqlx.DB, args []string) error {
		steps := 0
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("steps must be a positive integer, got %q", args[0])
			}
			steps = n
		}
		if err := migrations.Down(db.DB, steps); err != nil {
			return err
		}
		cmd.Println("rolled back")
		return nil
	}),
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the applied schema version",
	Args:  cobra.NoArgs,
	RunE: withDB(func(cmd *cobra.Command, db *sqlx.DB, _ []string) error {
		v, dirty, err := migrations.Version(db.DB)
		if err != nil {
			return err
		}
		cmd.Printf("version %d (dirty=%t)\n", v, dirty)
		return nil
	}),
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func withDB(fn func(cmd *cobra.Command, db *sqlx.DB, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Database.Driver != config.DriverPostgres {
			return fmt.Errorf("migrate needs DATABASE_DRIVER=postgres, got %q", cfg.Database.Driver)
		}
		db, err := postgres.Open(cmd.Context(), cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(cmd, db, args)
	}
}
