// Package app wires the relay components from configuration. The api, worker and
// relayctl binaries all build on it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-webhook-relay/internal/audit"
	"github.com/imrishuroy/go-webhook-relay/internal/aws"
	"github.com/imrishuroy/go-webhook-relay/internal/config"
	"github.com/imrishuroy/go-webhook-relay/internal/events"
	"github.com/imrishuroy/go-webhook-relay/internal/export"
	"github.com/imrishuroy/go-webhook-relay/internal/idempotency"
)

const (
	dbMaxOpenConns    = 10
	dbConnMaxLifetime = 30 * time.Minute
)

// App holds the wired components. Fields left nil were not configured.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Clock  clockwork.Clock

	AWS   *aws.AWSClients
	DB    *sql.DB
	Redis *redis.Client
	Store *audit.Store

	Guard     *idempotency.Guard
	Publisher *aws.Publisher
	Bus       *events.Bus
	Registry  *events.Registry
	Processor *events.Processor
	Requeuer  *events.Requeuer
}

// New connects to the canonical store, Redis and AWS and builds the event pipeline.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg.Audit.DSN == "" {
		return nil, errors.New("audit.dsn is required")
	}
	a := &App{Config: cfg, Logger: logger, Clock: clockwork.NewRealClock()}

	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init aws clients: %w", err)
	}
	a.AWS = clients

	db, err := OpenDB(ctx, cfg.Audit.DSN)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.Store = audit.NewStore(db, cfg.Audit.Schema, audit.WithLogger(logger.Named("audit")), audit.WithClock(a.Clock))

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.Redis = redis.NewClient(opts)
	}

	a.Guard = idempotency.NewGuard(cfg.Idempotency.TTL(), logger.Named("idempotency"), a.markers()...)
	a.Publisher = aws.NewPublisher(clients.SQS, cfg.Events.QueueURL)
	a.Bus = events.NewBus(a.Publisher, a.Clock, logger.Named("bus"))
	a.Requeuer = events.NewRequeuer(a.Store, a.Bus, logger.Named("requeue"))

	opts := []events.ProcessorOption{events.WithLogger(logger.Named("processor"))}
	if ns := cfg.Metrics.CloudWatchNamespace; ns != "" {
		opts = append(opts, events.WithDeadLetterHook(aws.NewDeadLetterMetrics(clients.CloudWatch, ns, logger).Hook()))
	}
	a.Registry = events.NewRegistry(events.DefaultHandlers(a.Store))
	a.Processor = events.NewProcessor(
		a.Registry,
		a.Publisher,
		a.Store,
		events.ProcessorConfig{
			MaxRetries:     cfg.Events.MaxRetries,
			RetryBackoff:   cfg.Events.RetryBackoff(),
			HandlerTimeout: cfg.Events.HandlerTimeout(),
		},
		opts...,
	)
	return a, nil
}

// OpenDB opens the canonical store through the pgx stdlib driver and pings it.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open canonical store: %w", err)
	}
	db.SetMaxOpenConns(dbMaxOpenConns)
	db.SetConnMaxLifetime(dbConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping canonical store: %w", err)
	}
	return db, nil
}

// markers returns the idempotency chain: Redis first, then the configured fallback.
func (a *App) markers() []idempotency.Marker {
	var markers []idempotency.Marker
	if a.Redis != nil {
		markers = append(markers, idempotency.NewRedisMarker(a.Redis))
	}
	switch a.Config.Idempotency.Fallback {
	case "dynamodb":
		markers = append(markers, idempotency.NewDynamoMarker(a.AWS.DynamoDB, a.Config.Idempotency.Table))
	case "memory":
		markers = append(markers, idempotency.NewMemoryMarker(a.Config.Idempotency.TTL()))
	}
	return markers
}

// DeadLetterRetention is the configured dead letter policy before stored overrides.
func (a *App) DeadLetterRetention() audit.RetentionPolicy {
	return DeadLetterRetention(a.Config)
}

// AuditRetention is the configured audit policy before stored overrides.
func (a *App) AuditRetention() audit.RetentionPolicy {
	return AuditRetention(a.Config)
}

func DeadLetterRetention(cfg *config.Config) audit.RetentionPolicy {
	tenants := make(map[string]int, len(cfg.Retention.TenantDays))
	for schema, days := range cfg.Retention.TenantDays {
		tenants[schema] = days
	}
	return audit.RetentionPolicy{DefaultDays: cfg.Retention.DLQPurgeDays, TenantDays: tenants}
}

func AuditRetention(cfg *config.Config) audit.RetentionPolicy {
	return audit.RetentionPolicy{DefaultDays: cfg.Retention.AuditDefaultDays, TenantDays: map[string]int{}}
}

// Purge applies the effective retention policy to target.
func (a *App) Purge(ctx context.Context, target audit.Target) (audit.PurgeResult, error) {
	base := a.DeadLetterRetention()
	if target == audit.TargetAudit {
		base = a.AuditRetention()
	}
	policy, err := a.Store.ResolvePolicy(ctx, base)
	if err != nil {
		return audit.PurgeResult{Target: target}, err
	}
	return a.Store.PurgeOlderThan(ctx, target, policy)
}

// Exporter builds the audit exporter. It needs Redis for its cursor.
func (a *App) Exporter() (*export.Exporter, error) {
	if a.Redis == nil {
		return nil, errors.New("audit export needs redis.url for its cursor")
	}
	ec := a.Config.Export
	cfg := export.Config{
		Addresses:   ec.Addresses,
		Username:    ec.Username,
		Password:    ec.Password,
		IndexPrefix: ec.IndexPrefix,
		BatchSize:   ec.BatchSize,
	}
	client, err := export.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return export.NewExporter(client, a.Store, export.NewRedisCursor(a.Redis, ec.CursorKey), cfg, a.Clock, a.Logger.Named("export")), nil
}

// Close releases connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
