package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-webhook-relay/internal/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Canonical store schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := migrations.Up(cfg.Audit.DSN, cfg.Audit.Schema)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema %s at version %d\n", cfg.Audit.Schema, version)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		if steps <= 0 {
			return fmt.Errorf("--steps must be positive")
		}
		if err := migrations.Down(cfg.Audit.DSN, cfg.Audit.Schema, steps); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)

	migrateDownCmd.Flags().Int("steps", 1, "number of migrations to roll back")
}
