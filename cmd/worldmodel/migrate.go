package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/worldmodel/internal/storage/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the recorder database schema",
	Long: `Apply or roll back migrations of the recorder database configured by
db_path.

Examples:
  worldmodel migrate up        # apply all pending migrations
  worldmodel migrate down      # roll back the last migration
  worldmodel migrate version   # show the current schema version`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(db *sqlite.DB) error {
			if err := db.MigrateUp(); err != nil {
				return err
			}
			return printVersion(cmd, db)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(db *sqlite.DB) error {
			if err := db.MigrateDown(); err != nil {
				return err
			}
			return printVersion(cmd, db)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(db *sqlite.DB) error { return printVersion(cmd, db) })
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func withDB(fn func(*sqlite.DB) error) error {
	db, err := sqlite.Open(cfg.GetDBPath())
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func printVersion(cmd *cobra.Command, db *sqlite.DB) error {
	v, dirty, err := db.MigrateVersion()
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d (%s)\n", cfg.GetDBPath(), v, state)
	return nil
}
