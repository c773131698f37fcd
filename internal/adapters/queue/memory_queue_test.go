package queue

import (
	"context"
	"fmt"
	"testing"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueueN(t *testing.T, q *MemoryQueue, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := q.Enqueue(context.Background(), &core.WorkItem{
			TenantID:            "t1",
			IntegrationID:       fmt.Sprintf("int-%d", i),
			ProviderMessageRefs: []string{fmt.Sprintf("msg-%d", i)},
		})
		require.NoError(t, err)
	}
}

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue()
	enqueueN(t, q, 3)

	items, err := q.Dequeue(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "int-0", items[0].IntegrationID)
	assert.Equal(t, "int-2", items[2].IntegrationID)
}

func TestMemoryQueueDequeueLimitsBatch(t *testing.T) {
	q := NewMemoryQueue()
	enqueueN(t, q, 5)

	items, err := q.Dequeue(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Pending)
}

func TestMemoryQueueEnqueueAssignsID(t *testing.T) {
	q := NewMemoryQueue()
	item := &core.WorkItem{TenantID: "t1"}
	require.NoError(t, q.Enqueue(context.Background(), item))
	assert.NotEmpty(t, item.ID)
	assert.False(t, item.EnqueuedAt.IsZero())
}

func TestMemoryQueueRequeueGoesToTail(t *testing.T) {
	q := NewMemoryQueue()
	enqueueN(t, q, 2)

	items, err := q.Dequeue(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, items, 1)

	items[0].Attempts = 1
	require.NoError(t, q.Requeue(context.Background(), items[0]))

	remaining, err := q.Dequeue(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, "int-1", remaining[0].IntegrationID)
	assert.Equal(t, "int-0", remaining[1].IntegrationID)
	assert.Equal(t, 1, remaining[1].Attempts)
}

func TestMemoryQueueDeadLetters(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	first := &core.WorkItem{ID: "a", TenantID: "t1"}
	second := &core.WorkItem{ID: "b", TenantID: "t1"}
	require.NoError(t, q.DeadLetter(ctx, first, "provider gone"))
	require.NoError(t, q.DeadLetter(ctx, second, "max attempts exceeded"))

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 2)
	assert.Equal(t, "b", dead[0].ID, "dead letters are newest first")
	assert.Equal(t, "max attempts exceeded", dead[0].LastError)
	assert.Equal(t, "provider gone", dead[1].LastError)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)
	assert.Equal(t, int64(2), stats.DeadLetter)
}

func TestMemoryQueueEmptyDequeue(t *testing.T) {
	q := NewMemoryQueue()
	items, err := q.Dequeue(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}
