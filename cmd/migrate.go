/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/tinyblog/blog/config"
	"github.com/tinyblog/blog/internal/db"
)

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd, "migrations applied", db.MigrateUp)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd, "migrations reverted", db.MigrateDown)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

func withDatabase(cmd *cobra.Command, done string, fn func(*sqlx.DB) error) error {
	cfg := config.LoadConfig()
	logger := newLogger(cfg.Log)

	conn, err := db.Open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := fn(conn); err != nil {
		return err
	}
	logger.WithField("driver", conn.DriverName()).Info(done)
	return nil
}
