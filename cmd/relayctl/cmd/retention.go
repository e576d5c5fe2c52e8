package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-webhook-relay/internal/app"
)

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Manage stored retention policies",
}

var retentionSetCmd = &cobra.Command{
	Use:   "set <days>",
	Short: "Store a retention policy (global unless --tenant is given)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days, err := strconv.Atoi(args[0])
		if err != nil || days <= 0 {
			return fmt.Errorf("days must be a positive integer")
		}
		schema, _ := cmd.Flags().GetString("tenant")

		ctx := cmd.Context()
		store, db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := store.SetRetentionPolicy(ctx, schema, days); err != nil {
			return err
		}
		scope := "global"
		if schema != "" {
			scope = "tenant " + schema
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s retention set to %d day(s)\n", scope, days)
		return nil
	},
}

var retentionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective dead letter and audit policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		dlq, err := store.ResolvePolicy(ctx, app.DeadLetterRetention(cfg))
		if err != nil {
			return err
		}
		au, err := store.ResolvePolicy(ctx, app.AuditRetention(cfg))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"dead_letters": dlq, "audit": au})
	},
}

func init() {
	rootCmd.AddCommand(retentionCmd)
	retentionCmd.AddCommand(retentionSetCmd)
	retentionCmd.AddCommand(retentionShowCmd)

	retentionSetCmd.Flags().String("tenant", "", "tenant schema the policy applies to")
}
