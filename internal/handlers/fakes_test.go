package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/imrishuroy/go-webhook-relay/internal/audit"
	"github.com/imrishuroy/go-webhook-relay/internal/events"
)

type recordingQueue struct {
	mu   sync.Mutex
	envs []events.Envelope
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, env events.Envelope, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.envs = append(q.envs, env)
	return nil
}

func (q *recordingQueue) emitted() []events.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]events.Envelope(nil), q.envs...)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.AuditEntry
}

func (a *recordingAudit) AppendAudit(_ context.Context, e audit.AuditEntry) audit.StoreResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	e.ID = int64(len(a.entries) + 1)
	a.entries = append(a.entries, e)
	return audit.StoreResult{Status: audit.StatusStored, ID: e.ID}
}

func (a *recordingAudit) last() audit.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries[len(a.entries)-1]
}

type fakeAdminStore struct {
	entries  []audit.DeadLetterEntry
	policies map[string]int
	purges   []purgeCall
	err      error
}

type purgeCall struct {
	target audit.Target
	policy audit.RetentionPolicy
}

func (s *fakeAdminStore) ListDeadLetters(_ context.Context, f audit.DeadLetterFilter) ([]audit.DeadLetterEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []audit.DeadLetterEntry
	for _, e := range s.entries {
		if f.TenantSchema != "" && e.TenantSchema != f.TenantSchema {
			continue
		}
		if f.EventName != "" && e.EventName != f.EventName {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeAdminStore) SummarizeDeadLetters(context.Context) (audit.DeadLetterSummary, error) {
	sum := audit.DeadLetterSummary{ByEvent: map[string]int{}, ByTenant: map[string]int{}}
	for _, e := range s.entries {
		sum.Total++
		sum.ByEvent[e.EventName]++
		sum.ByTenant[e.TenantSchema]++
	}
	return sum, s.err
}

func (s *fakeAdminStore) ResolvePolicy(_ context.Context, base audit.RetentionPolicy) (audit.RetentionPolicy, error) {
	if s.err != nil {
		return base, s.err
	}
	var global *int
	tenants := map[string]int{}
	for schema, days := range s.policies {
		if schema == "" {
			d := days
			global = &d
			continue
		}
		tenants[schema] = days
	}
	return base.Merge(global, tenants), nil
}

func (s *fakeAdminStore) PurgeOlderThan(_ context.Context, target audit.Target, policy audit.RetentionPolicy) (audit.PurgeResult, error) {
	s.purges = append(s.purges, purgeCall{target: target, policy: policy})
	return audit.PurgeResult{Target: target, ByTenant: map[string]int{}, Default: 2}, s.err
}

func (s *fakeAdminStore) SetRetentionPolicy(_ context.Context, schema string, days int) error {
	if s.err != nil {
		return s.err
	}
	if s.policies == nil {
		s.policies = map[string]int{}
	}
	s.policies[schema] = days
	return nil
}

type fakeRequeuer struct {
	calls []requeueCall
	known map[int64]string
}

type requeueCall struct {
	id int64
	o  events.RequeueOverrides
}

func (r *fakeRequeuer) Requeue(_ context.Context, id int64, o events.RequeueOverrides) (events.Envelope, error) {
	name, ok := r.known[id]
	if !ok {
		return events.Envelope{}, audit.ErrNotFound
	}
	r.calls = append(r.calls, requeueCall{id: id, o: o})
	return events.Envelope{ID: "env-" + name, Name: name}, nil
}

func (r *fakeRequeuer) RequeueMany(ctx context.Context, ids []int64, o events.RequeueOverrides) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, id := range ids {
		if _, err := r.Requeue(ctx, id, o); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
