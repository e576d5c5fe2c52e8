// Package audit is the canonical, tenant independent store for audit entries and dead
// letters. Every statement addresses its table by a fully qualified identifier so the
// write lands in the canonical schema no matter which tenant search_path a pooled
// connection was left with.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-webhook-relay/internal/metrics"
	"github.com/imrishuroy/go-webhook-relay/internal/tenant"
)

// DefaultSchema is the canonical schema name.
const DefaultSchema = "public"

const (
	auditTable      = "audit_log"
	deadLetterTable = "dead_letter"
	retentionTable  = "retention_policy"

	writeTimeout = 10 * time.Second
	queryTimeout = 5 * time.Second
	bulkTimeout  = 30 * time.Second

	defaultListLimit = 100
)

// Store persists audit entries and dead letters into the canonical schema.
type Store struct {
	db     *sql.DB
	schema string
	clock  clockwork.Clock
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at and purge cutoffs.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger used to report failed writes.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore returns a Store writing to schema through db. db must be a handle dedicated
// to canonical writes.
func NewStore(db *sql.DB, schema string, opts ...Option) *Store {
	if schema == "" {
		schema = DefaultSchema
	}
	s := &Store{
		db:     db,
		schema: schema,
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schema returns the canonical schema name.
func (s *Store) Schema() string { return s.schema }

func (s *Store) qualified(table string) string {
	return pgx.Identifier{s.schema, table}.Sanitize()
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// AppendAudit appends e to the audit log.
func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) StoreResult {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	payload, err := encodePayload(e.Payload)
	if err != nil {
		return s.failed(auditTable, e.Action, fmt.Errorf("encode payload: %w", err))
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(actor_id, path, method, source, action, status_code, tenant_schema, tenant_id, ip_address, created_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`, s.qualified(auditTable))

	return s.insert(ctx, auditTable, e.Action, query,
		nullInt64(e.ActorID),
		e.Path,
		e.Method,
		e.Source,
		e.Action,
		nullInt(e.StatusCode),
		nullString(e.TenantSchema),
		nullInt64(e.TenantID),
		nullString(e.IP),
		e.CreatedAt.UTC(),
		payload,
	)
}

// PersistDeadLetter records a terminal failure for eventName together with an
// event_DLQ audit entry, in one transaction. The tenant fields are taken from the
// payload, never from ambient connection state. A failed write is rolled back and
// reported as failed_to_store.
func (s *Store) PersistDeadLetter(ctx context.Context, eventName string, payload map[string]any, reason string) StoreResult {
	h := tenant.FromPayload(payload)
	encoded, err := encodePayload(payload)
	if err != nil {
		return s.failed(deadLetterTable, reason, fmt.Errorf("encode payload: %w", err))
	}
	now := s.now()
	path := DeadLetterPathPrefix + eventName

	deadLetter := fmt.Sprintf(`INSERT INTO %s
		(event_name, payload, reason, tenant_schema, tenant_id, path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`, s.qualified(deadLetterTable))
	auditRow := fmt.Sprintf(`INSERT INTO %s
		(path, method, source, action, status_code, tenant_schema, tenant_id, created_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`, s.qualified(auditTable))

	return s.inTx(ctx, deadLetterTable, reason, func(tx *sql.Tx) (int64, error) {
		var id int64
		err := tx.QueryRowContext(ctx, deadLetter,
			eventName, encoded, reason, nullString(h.Schema), nullInt64(h.ID), path, now,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert dead letter: %w", err)
		}
		var auditID int64
		err = tx.QueryRowContext(ctx, auditRow,
			path, MethodEvent, SourceEvents, ActionDeadLetter, 500, nullString(h.Schema), nullInt64(h.ID), now, encoded,
		).Scan(&auditID)
		if err != nil {
			return 0, fmt.Errorf("insert dead letter audit: %w", err)
		}
		return id, nil
	})
}

func (s *Store) insert(ctx context.Context, table, reason, query string, args ...any) StoreResult {
	return s.inTx(ctx, table, reason, func(tx *sql.Tx) (int64, error) {
		var id int64
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert: %w", err)
		}
		return id, nil
	})
}

func (s *Store) inTx(ctx context.Context, table, reason string, fn func(tx *sql.Tx) (int64, error)) StoreResult {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.failed(table, reason, fmt.Errorf("begin: %w", err))
	}

	id, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return s.failed(table, reason, err)
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return s.failed(table, reason, fmt.Errorf("commit: %w", err))
	}
	return StoreResult{Status: StatusStored, ID: id, Reason: reason}
}

func (s *Store) failed(table, reason string, err error) StoreResult {
	metrics.CanonicalWriteFailures.WithLabelValues(table).Inc()
	s.logger.Error("canonical write failed",
		zap.String("schema", s.schema),
		zap.String("table", table),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return StoreResult{Status: StatusFailedToStore, Reason: reason, Err: err}
}

const deadLetterColumns = `id, event_name, payload, reason, tenant_schema, tenant_id, path, created_at, requeued_at`

// GetDeadLetter loads a dead letter by id.
func (s *Store) GetDeadLetter(ctx context.Context, id int64) (*DeadLetterEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, deadLetterColumns, s.qualified(deadLetterTable))
	entry, err := scanDeadLetter(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dead letter %d: %w", id, err)
	}
	return entry, nil
}

// ListDeadLetters returns the most recent dead letters matching f.
func (s *Store) ListDeadLetters(ctx context.Context, f DeadLetterFilter) ([]DeadLetterEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if f.TenantSchema != "" {
		args = append(args, f.TenantSchema)
		where = append(where, fmt.Sprintf("tenant_schema = $%d", len(args)))
	}
	if f.EventName != "" {
		args = append(args, f.EventName)
		where = append(where, fmt.Sprintf("event_name = $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM %s`, deadLetterColumns, s.qualified(deadLetterTable))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetterEntry
	for rows.Next() {
		entry, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

// SummarizeDeadLetters counts dead letters by event name and tenant schema.
func (s *Store) SummarizeDeadLetters(ctx context.Context) (DeadLetterSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	summary := DeadLetterSummary{ByEvent: map[string]int{}, ByTenant: map[string]int{}}
	query := fmt.Sprintf(`SELECT event_name, COALESCE(tenant_schema, ''), COUNT(*) FROM %s GROUP BY event_name, tenant_schema`,
		s.qualified(deadLetterTable))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return summary, fmt.Errorf("summarize dead letters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name, schema string
			count        int
		)
		if err := rows.Scan(&name, &schema, &count); err != nil {
			return summary, fmt.Errorf("scan summary: %w", err)
		}
		summary.Total += count
		summary.ByEvent[name] += count
		if schema != "" {
			summary.ByTenant[schema] += count
		}
	}
	return summary, rows.Err()
}

// MarkRequeued stamps requeued_at on a dead letter.
func (s *Store) MarkRequeued(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET requeued_at = $1 WHERE id = $2`, s.qualified(deadLetterTable))
	res, err := s.db.ExecContext(ctx, query, s.now(), id)
	if err != nil {
		return fmt.Errorf("mark requeued %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAuditAfter returns audit entries positioned strictly after after, oldest first.
// Entries sharing a created_at are ordered by id so a page boundary never skips rows.
func (s *Store) ListAuditAfter(ctx context.Context, after Position, limit int) ([]AuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultListLimit
	}
	query := fmt.Sprintf(`SELECT id, actor_id, path, method, source, action, status_code, tenant_schema, tenant_id, ip_address, created_at, payload
		FROM %s WHERE (created_at, id) > ($1, $2) ORDER BY created_at, id LIMIT $3`, s.qualified(auditTable))

	rows, err := s.db.QueryContext(ctx, query, after.CreatedAt.UTC(), after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e                  AuditEntry
			actor, tenantID    sql.NullInt64
			status             sql.NullInt64
			schema, ip, rawPay sql.NullString
		)
		if err := rows.Scan(&e.ID, &actor, &e.Path, &e.Method, &e.Source, &e.Action, &status, &schema, &tenantID, &ip, &e.CreatedAt, &rawPay); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.ActorID = int64Ptr(actor)
		e.TenantID = int64Ptr(tenantID)
		if status.Valid {
			code := int(status.Int64)
			e.StatusCode = &code
		}
		e.TenantSchema = schema.String
		e.IP = ip.String
		e.CreatedAt = e.CreatedAt.UTC()
		if e.Payload, err = decodePayload(rawPay); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetRetentionPolicy stores a retention override. An empty schema sets the global policy.
func (s *Store) SetRetentionPolicy(ctx context.Context, schema string, days int) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s (tenant_schema, days) VALUES ($1, $2)
		ON CONFLICT (tenant_schema) DO UPDATE SET days = EXCLUDED.days`, s.qualified(retentionTable))
	if _, err := s.db.ExecContext(ctx, query, schema, days); err != nil {
		return fmt.Errorf("set retention policy: %w", err)
	}
	return nil
}

// RetentionOverrides loads stored retention policies: the global one (if any) and the
// per tenant ones.
func (s *Store) RetentionOverrides(ctx context.Context) (*int, map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT tenant_schema, days FROM %s`, s.qualified(retentionTable))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("load retention policies: %w", err)
	}
	defer rows.Close()

	var global *int
	tenants := map[string]int{}
	for rows.Next() {
		var (
			schema string
			days   int
		)
		if err := rows.Scan(&schema, &days); err != nil {
			return nil, nil, fmt.Errorf("scan retention policy: %w", err)
		}
		if schema == "" {
			d := days
			global = &d
			continue
		}
		tenants[schema] = days
	}
	return global, tenants, rows.Err()
}

// ResolvePolicy layers the stored retention policies over base.
func (s *Store) ResolvePolicy(ctx context.Context, base RetentionPolicy) (RetentionPolicy, error) {
	global, tenants, err := s.RetentionOverrides(ctx)
	if err != nil {
		return base, err
	}
	return base.Merge(global, tenants), nil
}

// PurgeOlderThan deletes rows of target created strictly before now minus the retention
// for their tenant. Rows exactly at the cutoff are kept. Tenants with an override use it;
// everything else, including rows without a tenant, uses the default. A non-positive
// number of days disables purging for that scope.
func (s *Store) PurgeOlderThan(ctx context.Context, target Target, policy RetentionPolicy) (PurgeResult, error) {
	result := PurgeResult{Target: target, ByTenant: map[string]int{}}

	var table string
	switch target {
	case TargetAudit:
		table = s.qualified(auditTable)
	case TargetDeadLetters:
		table = s.qualified(deadLetterTable)
	default:
		return result, fmt.Errorf("unknown purge target %q", target)
	}

	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	now := s.now()
	schemas := make([]string, 0, len(policy.TenantDays))
	for schema := range policy.TenantDays {
		schemas = append(schemas, schema)
	}
	sort.Strings(schemas)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, schema := range schemas {
		days := policy.TenantDays[schema]
		if days <= 0 {
			continue
		}
		query := fmt.Sprintf(`DELETE FROM %s WHERE tenant_schema = $1 AND created_at < $2`, table)
		n, err := execCount(ctx, tx, query, schema, cutoff(now, days))
		if err != nil {
			return result, fmt.Errorf("purge tenant %s: %w", schema, err)
		}
		result.ByTenant[schema] = n
	}

	if policy.DefaultDays > 0 {
		args := []any{cutoff(now, policy.DefaultDays)}
		query := fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, table)
		if len(schemas) > 0 {
			placeholders := make([]string, len(schemas))
			for i, schema := range schemas {
				args = append(args, schema)
				placeholders[i] = fmt.Sprintf("$%d", len(args))
			}
			query += fmt.Sprintf(" AND (tenant_schema IS NULL OR tenant_schema NOT IN (%s))", strings.Join(placeholders, ", "))
		}
		n, err := execCount(ctx, tx, query, args...)
		if err != nil {
			return result, fmt.Errorf("purge default: %w", err)
		}
		result.Default = n
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit purge: %w", err)
	}

	metrics.PurgedRows.WithLabelValues(string(target)).Add(float64(result.Total()))
	s.logger.Info("purged canonical rows",
		zap.String("target", string(target)),
		zap.Int("deleted", result.Total()),
		zap.Int("default_days", policy.DefaultDays),
	)
	return result, nil
}

func cutoff(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

func execCount(ctx context.Context, tx *sql.Tx, query string, args ...any) (int, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeadLetter(row rowScanner) (*DeadLetterEntry, error) {
	var (
		e        DeadLetterEntry
		rawPay   sql.NullString
		schema   sql.NullString
		tenantID sql.NullInt64
		requeued sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.EventName, &rawPay, &e.Reason, &schema, &tenantID, &e.Path, &e.CreatedAt, &requeued); err != nil {
		return nil, err
	}
	payload, err := decodePayload(rawPay)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	e.TenantSchema = schema.String
	e.TenantID = int64Ptr(tenantID)
	e.CreatedAt = e.CreatedAt.UTC()
	if requeued.Valid {
		t := requeued.Time.UTC()
		e.RequeuedAt = &t
	}
	return &e, nil
}

func encodePayload(payload map[string]any) (sql.NullString, error) {
	if payload == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodePayload(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var out map[string]any
	dec := json.NewDecoder(strings.NewReader(raw.String))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
