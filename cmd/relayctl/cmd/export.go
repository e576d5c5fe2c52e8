package cmd

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-webhook-relay/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Push one batch of audit entries to the search cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		ec := cfg.Export
		if !ec.Enabled {
			return fmt.Errorf("export is disabled (export.enabled)")
		}
		if cfg.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the export cursor")
		}

		ctx := cmd.Context()
		store, db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		ecfg := export.Config{
			Addresses:   ec.Addresses,
			Username:    ec.Username,
			Password:    ec.Password,
			IndexPrefix: ec.IndexPrefix,
			BatchSize:   ec.BatchSize,
		}
		client, err := export.NewClient(ecfg)
		if err != nil {
			return err
		}
		exporter := export.NewExporter(client, store, export.NewRedisCursor(rdb, ec.CursorKey), ecfg, clockwork.NewRealClock(), logger)

		res, err := exporter.Run(ctx)
		if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
			return perr
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
