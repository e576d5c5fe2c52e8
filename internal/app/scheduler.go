package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-webhook-relay/internal/audit"
)

// Scheduler registers the periodic retention purge and, when enabled, the audit export.
// An empty schedule disables its job.
func (a *App) Scheduler(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger), cron.Recover(cron.DiscardLogger)))
	wc := a.Config.Worker
	log := a.Logger.Named("scheduler")

	if wc.PurgeSchedule != "" {
		if _, err := c.AddFunc(wc.PurgeSchedule, func() { a.runPurge(ctx, log) }); err != nil {
			return nil, fmt.Errorf("invalid purge schedule %q: %w", wc.PurgeSchedule, err)
		}
	}

	if a.Config.Export.Enabled && wc.ExportSchedule != "" {
		exporter, err := a.Exporter()
		if err != nil {
			return nil, err
		}
		_, err = c.AddFunc(wc.ExportSchedule, func() {
			res, err := exporter.Run(ctx)
			if err != nil {
				log.Error("audit export failed", zap.Int("attempts", res.Attempts), zap.Error(err))
				return
			}
			log.Debug("audit export finished", zap.String("status", res.Status), zap.Int("exported", res.Exported))
		})
		if err != nil {
			return nil, fmt.Errorf("invalid export schedule %q: %w", wc.ExportSchedule, err)
		}
	}
	return c, nil
}

func (a *App) runPurge(ctx context.Context, log *zap.Logger) {
	for _, target := range []audit.Target{audit.TargetDeadLetters, audit.TargetAudit} {
		res, err := a.Purge(ctx, target)
		if err != nil {
			log.Error("retention purge failed", zap.String("target", string(target)), zap.Error(err))
			continue
		}
		log.Info("retention purge finished", zap.String("target", string(target)), zap.Int("deleted", res.Total()))
	}
}
