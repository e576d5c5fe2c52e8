package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-webhook-relay/internal/app"
	"github.com/imrishuroy/go-webhook-relay/internal/audit"
	"github.com/imrishuroy/go-webhook-relay/internal/events"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and requeue dead letters",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letters with summary counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantSchema, _ := cmd.Flags().GetString("tenant")
		eventName, _ := cmd.Flags().GetString("event")
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := cmd.Context()
		store, db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := store.ListDeadLetters(ctx, audit.DeadLetterFilter{TenantSchema: tenantSchema, EventName: eventName, Limit: limit})
		if err != nil {
			return err
		}
		summary, err := store.SummarizeDeadLetters(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"items": entries, "summary": summary})
	},
}

var dlqRequeueCmd = &cobra.Command{
	Use:   "requeue <id> [id...]",
	Short: "Re-emit dead letters as fresh events",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}

		var o events.RequeueOverrides
		if cmd.Flags().Changed("tenant-schema") {
			schema, _ := cmd.Flags().GetString("tenant-schema")
			o.TenantSchema = &schema
		}
		if cmd.Flags().Changed("tenant-id") {
			id, _ := cmd.Flags().GetInt64("tenant-id")
			o.TenantID = &id
		}

		ctx := cmd.Context()
		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Requeuer.RequeueMany(ctx, ids, o)
		fmt.Fprintf(cmd.OutOrStdout(), "requeued %d of %d dead letter(s)\n", n, len(ids))
		return err
	},
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid dead letter id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRequeueCmd)

	dlqListCmd.Flags().String("tenant", "", "filter by tenant schema")
	dlqListCmd.Flags().String("event", "", "filter by event name")
	dlqListCmd.Flags().Int("limit", 100, "maximum rows")

	dlqRequeueCmd.Flags().String("tenant-schema", "", "override the tenant schema in the payload")
	dlqRequeueCmd.Flags().Int64("tenant-id", 0, "override the tenant id in the payload")
}
