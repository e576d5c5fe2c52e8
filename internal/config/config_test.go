package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 300*time.Second, cfg.Webhooks.MaxSkew())
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL())
	assert.Equal(t, "memory", cfg.Idempotency.Fallback)
	assert.Equal(t, 3, cfg.Events.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Events.RetryBackoff())
	assert.Equal(t, 15*time.Second, cfg.Events.HandlerTimeout())
	assert.Equal(t, "public", cfg.Audit.Schema)
	assert.Equal(t, 30, cfg.Retention.DLQPurgeDays)
	assert.Equal(t, 90, cfg.Retention.AuditDefaultDays)
	assert.Equal(t, 1000, cfg.Export.BatchSize)
	assert.Empty(t, cfg.Webhooks.Secrets)
	assert.Empty(t, cfg.Retention.TenantDays)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	yaml := `
webhooks:
  max_skew_seconds: 120
  secrets:
    stripe: whsec_file
    github: gh_secret
events:
  max_retries: 5
retention:
  dlq_purge_days: 14
  tenant_days:
    acme: 7
    vip: 365
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("RELAY_EVENTS_MAX_RETRIES", "2")
	t.Setenv("RELAY_EVENTS_QUEUE_URL", "http://localhost:4566/000000000000/events")
	t.Setenv("RUN_LOCAL", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.Webhooks.MaxSkewSeconds)
	assert.Equal(t, map[string]string{"stripe": "whsec_file", "github": "gh_secret"}, cfg.Webhooks.Secrets)
	assert.Equal(t, 2, cfg.Events.MaxRetries, "env wins over file")
	assert.Equal(t, "http://localhost:4566/000000000000/events", cfg.Events.QueueURL)
	assert.True(t, cfg.Server.RunLocal)
	assert.Equal(t, 14, cfg.Retention.DLQPurgeDays)
	assert.Equal(t, map[string]int{"acme": 7, "vip": 365}, cfg.Retention.TenantDays)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_SecretsFromEnvJSON(t *testing.T) {
	t.Setenv("RELAY_WEBHOOKS_SECRETS", `{"stripe":"whsec_env"}`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "whsec_env", cfg.Webhooks.Secrets["stripe"])
}

func TestLoad_SecretKeysAreLowercased(t *testing.T) {
	t.Setenv("RELAY_WEBHOOKS_SECRETS", `{"GitHub":"gh_env"}`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"github": "gh_env"}, cfg.Webhooks.Secrets)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("RELAY_IDEMPOTENCY_FALLBACK", "etcd")
	_, err := Load("")
	assert.ErrorContains(t, err, "invalid config")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_ExportNeedsAddresses(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Export.Enabled = true
	cfg.Export.Addresses = []string{}
	assert.ErrorContains(t, Validate(cfg), "required_when_enabled")

	cfg.Export.Addresses = nil
	assert.Error(t, Validate(cfg))

	cfg.Export.Addresses = []string{"http://localhost:9200"}
	assert.NoError(t, Validate(cfg))
}

func TestParseDays(t *testing.T) {
	_, err := parseDays(map[string]string{"acme": "seven"})
	assert.ErrorContains(t, err, "retention.tenant_days.acme")
}
