package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/imrishuroy/go-webhook-relay/internal/audit"
)

type queued struct {
	env   Envelope
	delay time.Duration
}

type fakeQueue struct {
	mu    sync.Mutex
	items []queued
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, env Envelope, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, queued{env: env, delay: delay})
	return nil
}

func (q *fakeQueue) pop() (queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queued{}, false
	}
	next := q.items[0]
	q.items = q.items[1:]
	return next, true
}

type deadLetter struct {
	name    string
	payload map[string]any
	reason  string
}

type fakeSink struct {
	mu      sync.Mutex
	letters []deadLetter
	fail    bool
}

func (s *fakeSink) PersistDeadLetter(_ context.Context, name string, payload map[string]any, reason string) audit.StoreResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return audit.StoreResult{Status: audit.StatusFailedToStore, Reason: reason, Err: errors.New("db down")}
	}
	s.letters = append(s.letters, deadLetter{name: name, payload: payload, reason: reason})
	return audit.StoreResult{Status: audit.StatusStored, ID: int64(len(s.letters)), Reason: reason}
}

type fakeAuditWriter struct {
	mu      sync.Mutex
	entries []audit.AuditEntry
	fail    bool
}

func (w *fakeAuditWriter) AppendAudit(_ context.Context, e audit.AuditEntry) audit.StoreResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return audit.StoreResult{Status: audit.StatusFailedToStore, Reason: e.Action, Err: errors.New("db down")}
	}
	w.entries = append(w.entries, e)
	return audit.StoreResult{Status: audit.StatusStored, ID: int64(len(w.entries))}
}

type fakeDeadLetters struct {
	entries  map[int64]*audit.DeadLetterEntry
	requeued []int64
}

func (f *fakeDeadLetters) GetDeadLetter(_ context.Context, id int64) (*audit.DeadLetterEntry, error) {
	e, ok := f.entries[id]
	if !ok {
		return nil, audit.ErrNotFound
	}
	return e, nil
}

func (f *fakeDeadLetters) MarkRequeued(_ context.Context, id int64) error {
	if _, ok := f.entries[id]; !ok {
		return audit.ErrNotFound
	}
	f.requeued = append(f.requeued, id)
	return nil
}
