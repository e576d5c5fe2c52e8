package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Webhooks    WebhooksConfig    `mapstructure:"webhooks"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Events      EventsConfig      `mapstructure:"events"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Export      ExportConfig      `mapstructure:"export"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	RunLocal bool   `mapstructure:"run_local"`
}

type WebhooksConfig struct {
	// Secrets maps provider name to its shared secret.
	Secrets        map[string]string `mapstructure:"-"`
	MaxSkewSeconds int               `mapstructure:"max_skew_seconds" validate:"gte=0"`
}

type IdempotencyConfig struct {
	TTLSeconds int    `mapstructure:"ttl_seconds" validate:"gt=0"`
	Fallback   string `mapstructure:"fallback" validate:"oneof=memory dynamodb none"`
	Table      string `mapstructure:"table" validate:"required_if=Fallback dynamodb"`
}

type EventsConfig struct {
	QueueURL              string `mapstructure:"queue_url"`
	MaxRetries            int    `mapstructure:"max_retries" validate:"gte=0"`
	RetryBackoffSeconds   int    `mapstructure:"retry_backoff_seconds" validate:"gt=0,lte=900"`
	HandlerTimeoutSeconds int    `mapstructure:"handler_timeout_seconds" validate:"gt=0"`
}

type WorkerConfig struct {
	Concurrency    int    `mapstructure:"concurrency" validate:"gt=0"`
	WaitSeconds    int    `mapstructure:"wait_seconds" validate:"gte=0,lte=20"`
	PurgeSchedule  string `mapstructure:"purge_schedule"`
	ExportSchedule string `mapstructure:"export_schedule"`
}

type AuditConfig struct {
	DSN    string `mapstructure:"dsn"`
	Schema string `mapstructure:"schema" validate:"required"`
}

type RetentionConfig struct {
	DLQPurgeDays     int `mapstructure:"dlq_purge_days"`
	AuditDefaultDays int `mapstructure:"audit_default_days"`
	// TenantDays overrides the retention per tenant schema.
	TenantDays map[string]int `mapstructure:"-"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type ExportConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Addresses   []string `mapstructure:"addresses" validate:"dive,url"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	IndexPrefix string   `mapstructure:"index_prefix" validate:"required"`
	BatchSize   int      `mapstructure:"batch_size" validate:"gt=0"`
	CursorKey   string   `mapstructure:"cursor_key" validate:"required"`
}

type AdminConfig struct {
	Token string `mapstructure:"token"`
}

type MetricsConfig struct {
	CloudWatchNamespace string `mapstructure:"cloudwatch_namespace"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

func (c WebhooksConfig) MaxSkew() time.Duration {
	return time.Duration(c.MaxSkewSeconds) * time.Second
}

func (c IdempotencyConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c EventsConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

func (c EventsConfig) HandlerTimeout() time.Duration {
	return time.Duration(c.HandlerTimeoutSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.run_local", false)
	v.SetDefault("webhooks.max_skew_seconds", 300)
	v.SetDefault("idempotency.ttl_seconds", 86400)
	v.SetDefault("idempotency.fallback", "memory")
	v.SetDefault("idempotency.table", "webhook-idempotency")
	v.SetDefault("events.queue_url", "")
	v.SetDefault("events.max_retries", 3)
	v.SetDefault("events.retry_backoff_seconds", 5)
	v.SetDefault("events.handler_timeout_seconds", 15)
	v.SetDefault("worker.concurrency", 8)
	v.SetDefault("worker.wait_seconds", 20)
	v.SetDefault("worker.purge_schedule", "@daily")
	v.SetDefault("worker.export_schedule", "@every 1m")
	v.SetDefault("audit.dsn", "")
	v.SetDefault("audit.schema", "public")
	v.SetDefault("retention.dlq_purge_days", 30)
	v.SetDefault("retention.audit_default_days", 90)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("export.enabled", false)
	v.SetDefault("export.addresses", []string{})
	v.SetDefault("export.username", "")
	v.SetDefault("export.password", "")
	v.SetDefault("export.index_prefix", "audit")
	v.SetDefault("export.batch_size", 1000)
	v.SetDefault("export.cursor_key", "relay:export:audit:cursor")
	v.SetDefault("admin.token", "")
	v.SetDefault("metrics.cloudwatch_namespace", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from defaults, an optional YAML file, a .env file and
// RELAY_ prefixed environment variables, in increasing precedence.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("relay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/webhook-relay")
	}

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// kept for deployments that still set the unprefixed flag
	_ = v.BindEnv("server.run_local", "RELAY_SERVER_RUN_LOCAL", "RUN_LOCAL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// maps come from a YAML mapping or a JSON object in the environment
	cfg.Webhooks.Secrets = lowerKeys(v.GetStringMapString("webhooks.secrets"))
	tenantDays, err := parseDays(v.GetStringMapString("retention.tenant_days"))
	if err != nil {
		return nil, err
	}
	cfg.Retention.TenantDays = tenantDays

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var configValidator = newValidator()

func newValidator() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterStructValidation(exportRules, ExportConfig{})
	return v
}

// exportRules needs at least one address once export is on; an empty list would make
// the client fall back to localhost.
func exportRules(sl validatorv10.StructLevel) {
	ec := sl.Current().Interface().(ExportConfig)
	if ec.Enabled && len(ec.Addresses) == 0 {
		sl.ReportError(ec.Addresses, "Addresses", "addresses", "required_when_enabled", "")
	}
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := configValidator.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// lowerKeys normalizes provider names; webhook routes match them case-insensitively.
func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

func parseDays(raw map[string]string) (map[string]int, error) {
	out := make(map[string]int, len(raw))
	for schema, value := range raw {
		days, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("retention.tenant_days.%s: %w", schema, err)
		}
		out[schema] = days
	}
	return out, nil
}
