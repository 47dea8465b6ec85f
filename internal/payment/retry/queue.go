package retry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is one scheduled retry. Only the transaction id crosses the queue;
// the worker re-reads everything else from the store so stale queue data
// can never override current state.
type Entry struct {
	TransactionID string    `json:"transaction_id"`
	Attempt       int       `json:"attempt"`
	DueAt         time.Time `json:"due_at"`
}

// DelayedQueue holds retry entries until their due time.
type DelayedQueue interface {
	Push(ctx context.Context, entry Entry) error
	// PopDue removes and returns up to limit entries whose due time has
	// passed, oldest first.
	PopDue(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	Len(ctx context.Context) (int64, error)
}

// MemoryQueue is the in-process DelayedQueue used by tests and
// single-node deployments without Redis.
type MemoryQueue struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, entry Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry)
	sort.Slice(q.entries, func(i, j int) bool {
		return q.entries[i].DueAt.Before(q.entries[j].DueAt)
	})
	return nil
}

func (q *MemoryQueue) PopDue(_ context.Context, now time.Time, limit int) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Entry
	for len(q.entries) > 0 && len(due) < limit && !q.entries[0].DueAt.After(now) {
		due = append(due, q.entries[0])
		q.entries = q.entries[1:]
	}
	return due, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}
