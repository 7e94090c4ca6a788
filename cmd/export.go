/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tinyblog/blog/config"
	"github.com/tinyblog/blog/internal/db"
	"github.com/tinyblog/blog/internal/services"
	"github.com/tinyblog/blog/internal/storage"
	"github.com/tinyblog/blog/internal/store"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a JSON snapshot of all posts to object storage",
	Long: `Write a JSON snapshot of all posts, newest first, to the bucket
selected by STORAGE_BACKEND (minio or gcs). Usage:

	blog export
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := newLogger(cfg.Log)
		ctx := cmd.Context()

		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := db.MigrateUp(conn); err != nil {
			return err
		}

		objects, err := storage.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer objects.Close()

		posts := services.NewPostService(store.NewPostRepository(conn))
		result, err := storage.NewExporter(posts, objects, cfg.Storage.Prefix).Export(ctx)
		if err != nil {
			return fmt.Errorf("export posts: %w", err)
		}

		logger.WithFields(logrus.Fields{
			"bucket": result.Bucket,
			"key":    result.Key,
			"posts":  result.Count,
			"bytes":  result.Bytes,
		}).Info("posts exported")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
