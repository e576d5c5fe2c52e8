package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-webhook-relay/internal/app"
	"github.com/imrishuroy/go-webhook-relay/internal/audit"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete rows older than their retention",
	Long: `Delete dead letters and/or audit entries older than the effective retention.

The configured policy is layered with the policies stored in the canonical
store; --days and --tenant-days override both for this run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		targetFlag, _ := cmd.Flags().GetString("target")
		days, _ := cmd.Flags().GetInt("days")
		tenantDays, _ := cmd.Flags().GetStringToInt("tenant-days")

		targets, err := purgeTargets(targetFlag)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		var override *int
		if cmd.Flags().Changed("days") {
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			override = &days
		}

		results := make([]audit.PurgeResult, 0, len(targets))
		for _, target := range targets {
			base := app.DeadLetterRetention(cfg)
			if target == audit.TargetAudit {
				base = app.AuditRetention(cfg)
			}
			policy, err := store.ResolvePolicy(ctx, base)
			if err != nil {
				return err
			}
			res, err := store.PurgeOlderThan(ctx, target, policy.Merge(override, tenantDays))
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return printJSON(cmd.OutOrStdout(), results)
	},
}

func purgeTargets(flag string) ([]audit.Target, error) {
	switch flag {
	case string(audit.TargetDeadLetters):
		return []audit.Target{audit.TargetDeadLetters}, nil
	case string(audit.TargetAudit):
		return []audit.Target{audit.TargetAudit}, nil
	case "all":
		return []audit.Target{audit.TargetDeadLetters, audit.TargetAudit}, nil
	default:
		return nil, fmt.Errorf("unknown target %q (want dead_letters, audit or all)", flag)
	}
}

func init() {
	rootCmd.AddCommand(purgeCmd)

	purgeCmd.Flags().String("target", string(audit.TargetDeadLetters), "dead_letters, audit or all")
	purgeCmd.Flags().Int("days", 0, "override the default retention in days")
	purgeCmd.Flags().StringToInt("tenant-days", nil, "per tenant overrides, e.g. acme=7,vip=365")
}
