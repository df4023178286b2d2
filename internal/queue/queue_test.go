package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemQueueDequeuesHighestPriorityFirst(t *testing.T) {
	q := NewMemQueue()
	now := time.Now()
	require.NoError(t, q.Enqueue(&Job{ID: "low", Priority: PriorityLow, CreatedAt: now}))
	require.NoError(t, q.Enqueue(&Job{ID: "crit", Priority: PriorityCritical, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, q.Enqueue(&Job{ID: "med", Priority: PriorityMedium, CreatedAt: now}))

	job, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "crit", job.ID)
}

func TestMemQueueFIFOWithinSamePriority(t *testing.T) {
	q := NewMemQueue()
	now := time.Now()
	require.NoError(t, q.Enqueue(&Job{ID: "first", Priority: PriorityMedium, CreatedAt: now}))
	require.NoError(t, q.Enqueue(&Job{ID: "second", Priority: PriorityMedium, CreatedAt: now.Add(time.Second)}))

	job, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "first", job.ID)
}

func TestMemQueueSkipsNotYetAvailableJobs(t *testing.T) {
	q := NewMemQueue()
	require.NoError(t, q.Enqueue(&Job{ID: "future", Priority: PriorityCritical, AvailableAt: time.Now().Add(time.Hour)}))
	require.NoError(t, q.Enqueue(&Job{ID: "ready", Priority: PriorityLow}))

	job, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "ready", job.ID)
	assert.Equal(t, 1, q.Size())
}

func TestMemQueueDequeueEmptyReturnsFalse(t *testing.T) {
	q := NewMemQueue()
	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestWorkerPoolDispatchesToRegisteredHandler(t *testing.T) {
	q := NewMemQueue()
	pool := NewWorkerPool(q, 5*time.Millisecond, zerolog.Nop())

	var mu sync.Mutex
	var processed []string
	pool.Register(JobTypeExport, func(ctx context.Context, job *Job) error {
		mu.Lock()
		processed = append(processed, job.ID)
		mu.Unlock()
		return nil
	})

	require.NoError(t, q.Enqueue(&Job{ID: "e1", Type: JobTypeExport, Priority: PriorityHigh}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) == 1 && processed[0] == "e1"
	}, 150*time.Millisecond, 5*time.Millisecond)
}

func TestGetJobDescriptionFallsBackToRawType(t *testing.T) {
	assert.Equal(t, "Exporting posted journal entries", GetJobDescription(JobTypeExport))
	assert.Equal(t, "unregistered_type", GetJobDescription(JobType("unregistered_type")))
}
