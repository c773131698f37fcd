package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/mail-sentinel/internal/core"
)

// MemoryQueue is an in-process FIFO queue with dead-letter support, used
// for development and tests. It mirrors the Redis queue's semantics: FIFO
// order, atomic pop-of-N, dead letters newest first.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []*core.WorkItem
	dead    []*core.WorkItem
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Enqueue pushes a work item onto the tail of the queue
func (q *MemoryQueue) Enqueue(ctx context.Context, item *core.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	copied := *item
	q.pending = append(q.pending, &copied)
	return nil
}

// Dequeue pops up to n items from the head of the queue
func (q *MemoryQueue) Dequeue(ctx context.Context, n int) ([]*core.WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.pending) == 0 {
		return nil, nil
	}
	if n > len(q.pending) {
		n = len(q.pending)
	}

	items := make([]*core.WorkItem, 0, n)
	for _, item := range q.pending[:n] {
		copied := *item
		items = append(items, &copied)
	}
	q.pending = q.pending[n:]
	return items, nil
}

// Requeue puts an item back at the tail
func (q *MemoryQueue) Requeue(ctx context.Context, item *core.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	copied := *item
	q.pending = append(q.pending, &copied)
	return nil
}

// DeadLetter moves an item to the dead-letter list with the failure reason
func (q *MemoryQueue) DeadLetter(ctx context.Context, item *core.WorkItem, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	copied := *item
	copied.LastError = reason
	q.dead = append([]*core.WorkItem{&copied}, q.dead...)
	return nil
}

// DeadLetters returns up to limit dead-lettered items, newest first
func (q *MemoryQueue) DeadLetters(ctx context.Context, limit int) ([]*core.WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 || limit > len(q.dead) {
		limit = len(q.dead)
	}
	items := make([]*core.WorkItem, 0, limit)
	for _, item := range q.dead[:limit] {
		copied := *item
		items = append(items, &copied)
	}
	return items, nil
}

// Stats reports queue depths
func (q *MemoryQueue) Stats(ctx context.Context) (*core.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return &core.QueueStats{
		Pending:    int64(len(q.pending)),
		DeadLetter: int64(len(q.dead)),
	}, nil
}
