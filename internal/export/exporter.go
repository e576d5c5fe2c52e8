// Package export ships canonical audit entries to an OpenSearch cluster.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-webhook-relay/internal/audit"
	"github.com/imrishuroy/go-webhook-relay/internal/metrics"
)

const (
	DefaultBatchSize   = 1000
	DefaultIndexPrefix = "audit"
	DefaultLookback    = 5 * time.Minute

	defaultMaxAttempts = 3
	defaultBaseBackoff = time.Second
	maxBackoff         = 10 * time.Second

	indexDateForm = "2006.01.02"
)

// Run statuses.
const (
	StatusOK     = "ok"
	StatusEmpty  = "nothing_to_export"
	StatusFailed = "error"
)

// Source lists audit entries positioned strictly after a keyset cursor, oldest first.
type Source interface {
	ListAuditAfter(ctx context.Context, after audit.Position, limit int) ([]audit.AuditEntry, error)
}

// Config configures an Exporter.
type Config struct {
	Addresses   []string
	Username    string
	Password    string
	IndexPrefix string
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
}

// Result reports one export run.
type Result struct {
	Status     string    `json:"status"`
	Exported   int       `json:"exported"`
	Attempts   int       `json:"attempts"`
	Latest     time.Time `json:"latest,omitempty"`
	StatusCode int       `json:"code,omitempty"`
}

// Exporter bulk indexes audit entries newer than the cursor.
type Exporter struct {
	client *opensearch.Client
	source Source
	cursor Cursor
	cfg    Config
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewClient builds the OpenSearch client. Transport retries are disabled; the exporter
// retries whole batches itself.
func NewClient(cfg Config) (*opensearch.Client, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return client, nil
}

func NewExporter(client *opensearch.Client, source Source, cursor Cursor, cfg Config, clock clockwork.Clock, logger *zap.Logger) *Exporter {
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = DefaultIndexPrefix
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{client: client, source: source, cursor: cursor, cfg: cfg, clock: clock, logger: logger}
}

// Run exports one batch. The cursor only moves after the cluster accepted the batch.
func (e *Exporter) Run(ctx context.Context) (Result, error) {
	after, ok, err := e.cursor.Load(ctx)
	if err != nil {
		return Result{Status: StatusFailed}, err
	}
	if !ok {
		after = audit.Position{CreatedAt: e.clock.Now().Add(-DefaultLookback)}
	}

	entries, err := e.source.ListAuditAfter(ctx, after, e.cfg.BatchSize)
	if err != nil {
		return Result{Status: StatusFailed}, err
	}
	if len(entries) == 0 {
		return Result{Status: StatusEmpty}, nil
	}

	body, err := e.encode(entries)
	if err != nil {
		return Result{Status: StatusFailed}, err
	}

	res := Result{Status: StatusFailed}
	for res.Attempts < e.cfg.MaxAttempts {
		res.StatusCode, err = e.bulk(ctx, body)
		res.Attempts++
		if err == nil {
			break
		}
		e.logger.Warn("audit export attempt failed",
			zap.Int("attempt", res.Attempts),
			zap.Int("status_code", res.StatusCode),
			zap.Error(err),
		)
		if res.Attempts < e.cfg.MaxAttempts {
			if werr := e.wait(ctx, backoff(e.cfg.BaseBackoff, res.Attempts)); werr != nil {
				return res, werr
			}
		}
	}
	if err != nil {
		metrics.ExportErrors.Inc()
		return res, fmt.Errorf("bulk export after %d attempts: %w", res.Attempts, err)
	}

	last := entries[len(entries)-1]
	latest := last.CreatedAt
	if err := e.cursor.Save(ctx, audit.Position{CreatedAt: latest, ID: last.ID}); err != nil {
		return res, err
	}

	metrics.ExportedDocuments.Add(float64(len(entries)))
	res.Status = StatusOK
	res.Exported = len(entries)
	res.Latest = latest
	e.logger.Info("audit entries exported", zap.Int("count", len(entries)), zap.Time("latest", latest))
	return res, nil
}

type document struct {
	ID           int64     `json:"id"`
	ActorID      *int64    `json:"user_id"`
	Path         string    `json:"path"`
	Method       string    `json:"method"`
	Source       string    `json:"source"`
	Action       string    `json:"action"`
	StatusCode   *int      `json:"status_code"`
	TenantSchema *string   `json:"tenant_schema"`
	TenantID     *int64    `json:"tenant_id"`
	IP           *string   `json:"ip_address"`
	CreatedAt    time.Time `json:"created_at"`
}

// encode renders the bulk NDJSON body. Entries go to a daily index by created_at and
// keep their id as the document id, so a re-sent batch overwrites rather than duplicates.
func (e *Exporter) encode(entries []audit.AuditEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, entry := range entries {
		meta := map[string]any{"index": map[string]string{
			"_index": IndexName(e.cfg.IndexPrefix, entry.CreatedAt),
			"_id":    strconv.FormatInt(entry.ID, 10),
		}}
		if err := enc.Encode(meta); err != nil {
			return nil, fmt.Errorf("encode bulk meta: %w", err)
		}
		if err := enc.Encode(toDocument(entry)); err != nil {
			return nil, fmt.Errorf("encode audit entry %d: %w", entry.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func (e *Exporter) bulk(ctx context.Context, body []byte) (int, error) {
	req := opensearchapi.BulkRequest{Body: bytes.NewReader(body)}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return resp.StatusCode, fmt.Errorf("opensearch returned %s: %s", resp.Status(), msg)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (e *Exporter) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IndexName is the daily index an entry created at t belongs to.
func IndexName(prefix string, t time.Time) string {
	return prefix + "-" + t.UTC().Format(indexDateForm)
}

// backoff doubles per attempt and is capped at maxBackoff.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

func toDocument(e audit.AuditEntry) document {
	return document{
		ID:           e.ID,
		ActorID:      e.ActorID,
		Path:         e.Path,
		Method:       e.Method,
		Source:       e.Source,
		Action:       e.Action,
		StatusCode:   e.StatusCode,
		TenantSchema: optional(e.TenantSchema),
		TenantID:     e.TenantID,
		IP:           optional(e.IP),
		CreatedAt:    e.CreatedAt.UTC(),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
