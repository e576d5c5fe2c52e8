package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-webhook-relay/internal/audit"
)

const cursorKey = "relay:export:audit:cursor"

var exportNow = time.Date(2026, 7, 14, 23, 58, 0, 0, time.UTC)

type fakeSource struct {
	entries []audit.AuditEntry
	after   []audit.Position
}

// entries are kept in (created_at, id) order by the tests.
func (s *fakeSource) ListAuditAfter(_ context.Context, after audit.Position, limit int) ([]audit.AuditEntry, error) {
	s.after = append(s.after, after)
	var out []audit.AuditEntry
	for _, e := range s.entries {
		later := e.CreatedAt.After(after.CreatedAt) || (e.CreatedAt.Equal(after.CreatedAt) && e.ID > after.ID)
		if later && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

// bulkServer answers _bulk with the scripted status codes, then 200.
type bulkServer struct {
	mu       sync.Mutex
	statuses []int
	bodies   [][]byte
}

func (b *bulkServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path != "/_bulk" {
		_, _ = w.Write([]byte(`{"version":{"number":"2.11.0","distribution":"opensearch"}}`))
		return
	}
	body, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.bodies = append(b.bodies, body)
	status := http.StatusOK
	if len(b.statuses) > 0 {
		status, b.statuses = b.statuses[0], b.statuses[1:]
	}
	b.mu.Unlock()
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"took":1,"errors":false,"items":[]}`))
}

func (b *bulkServer) requests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bodies)
}

type fixture struct {
	exporter *Exporter
	source   *fakeSource
	server   *bulkServer
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T, batchSize int, entries ...audit.AuditEntry) *fixture {
	t.Helper()
	srv := &bulkServer{}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := Config{Addresses: []string{ts.URL}, IndexPrefix: "audit", BatchSize: batchSize, BaseBackoff: time.Millisecond}
	client, err := NewClient(cfg)
	require.NoError(t, err)

	src := &fakeSource{entries: entries}
	return &fixture{
		exporter: NewExporter(client, src, NewRedisCursor(rdb, cursorKey), cfg, clockwork.NewFakeClockAt(exportNow), nil),
		source:   src,
		server:   srv,
		redis:    mr,
	}
}

func entryAt(id int64, at time.Time) audit.AuditEntry {
	status := 200
	return audit.AuditEntry{ID: id, Path: "/webhooks/stripe", Method: "POST", Source: audit.SourceWebhook, Action: "webhook_stripe", StatusCode: &status, TenantSchema: "acme", CreatedAt: at}
}

func TestRun_DefaultsToLookbackAndAdvancesCursor(t *testing.T) {
	f := newFixture(t, 10,
		entryAt(1, exportNow.Add(-10*time.Minute)),
		entryAt(2, exportNow.Add(-2*time.Minute)),
		entryAt(3, exportNow.Add(3*time.Minute)),
	)

	res, err := f.exporter.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 2, res.Exported)
	assert.Equal(t, 1, res.Attempts)

	require.Len(t, f.source.after, 1)
	assert.True(t, f.source.after[0].CreatedAt.Equal(exportNow.Add(-DefaultLookback)))
	assert.Zero(t, f.source.after[0].ID)

	stored, err := f.redis.Get(cursorKey)
	require.NoError(t, err)
	assert.Equal(t, exportNow.Add(3*time.Minute).Format(time.RFC3339Nano)+" 3", stored)
	assert.Zero(t, f.redis.TTL(cursorKey))

	// entry 3 falls on the next day
	lines := ndjson(t, f.server.bodies[0])
	require.Len(t, lines, 4)
	assert.Equal(t, "audit-2026.07.14", lines[0]["index"].(map[string]any)["_index"])
	assert.Equal(t, "2", lines[0]["index"].(map[string]any)["_id"])
	assert.Equal(t, "audit-2026.07.15", lines[2]["index"].(map[string]any)["_index"])
	assert.Equal(t, "webhook_stripe", lines[1]["action"])
	assert.Nil(t, lines[1]["ip_address"])

	res, err = f.exporter.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, res.Status)
	assert.Equal(t, 1, f.server.requests())
}

func TestRun_RetriesThenSucceeds(t *testing.T) {
	f := newFixture(t, 10, entryAt(1, exportNow.Add(-time.Minute)))
	f.server.statuses = []int{http.StatusInternalServerError, http.StatusTooManyRequests}

	res, err := f.exporter.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, f.server.requests())
}

func TestRun_FailureKeepsCursor(t *testing.T) {
	f := newFixture(t, 10, entryAt(1, exportNow.Add(-time.Minute)))
	f.server.statuses = []int{500, 500, 500}

	res, err := f.exporter.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.False(t, f.redis.Exists(cursorKey))

	// next run picks the same batch up again
	res, err = f.exporter.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Exported)
}

func TestRun_HonoursBatchSizeAndStoredCursor(t *testing.T) {
	base := exportNow.Add(-time.Hour)
	f := newFixture(t, 2,
		entryAt(1, base.Add(time.Second)),
		entryAt(2, base.Add(2*time.Second)),
		entryAt(3, base.Add(3*time.Second)),
	)
	require.NoError(t, f.redis.Set(cursorKey, base.Format(time.RFC3339Nano)))

	res, err := f.exporter.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Exported)

	res, err = f.exporter.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Exported)
	assert.True(t, res.Latest.Equal(base.Add(3*time.Second)))
}

func TestRun_BatchBoundaryInsideTimestampTie(t *testing.T) {
	at := exportNow.Add(-time.Minute)
	f := newFixture(t, 2, entryAt(1, at), entryAt(2, at), entryAt(3, at))

	res, err := f.exporter.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Exported)

	res, err = f.exporter.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 1, res.Exported)
	assert.True(t, f.source.after[1].CreatedAt.Equal(at))
	assert.Equal(t, int64(2), f.source.after[1].ID)

	res, err = f.exporter.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, res.Status)
}

func TestRedisCursor_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	c := NewRedisCursor(rdb, cursorKey)
	ctx := context.Background()

	want := audit.Position{CreatedAt: exportNow.Add(123 * time.Nanosecond), ID: 42}
	require.NoError(t, c.Save(ctx, want))

	// no expiry: a long outage must not lose the position
	mr.FastForward(72 * time.Hour)
	got, ok, err := c.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.CreatedAt.Equal(want.CreatedAt))
	assert.Equal(t, want.ID, got.ID)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, 1))
	assert.Equal(t, 2*time.Second, backoff(time.Second, 2))
	assert.Equal(t, 8*time.Second, backoff(time.Second, 4))
	assert.Equal(t, maxBackoff, backoff(time.Second, 5))
}

func TestRedisCursor_Unreadable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	require.NoError(t, mr.Set(cursorKey, "not-a-time"))

	_, ok, err := NewRedisCursor(rdb, cursorKey).Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	mr.Close()
	_, _, err = NewRedisCursor(rdb, cursorKey).Load(context.Background())
	assert.Error(t, err)
}

func ndjson(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		out = append(out, line)
	}
	return out
}
