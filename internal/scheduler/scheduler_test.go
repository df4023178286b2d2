package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/ledgerwell/decisioning/internal/queue"
)

func TestScheduleDriftCheckEnqueuesPerTenant(t *testing.T) {
	q := queue.NewMemQueue()
	tenants := []domain.TenantID{"tenant-a", "tenant-b"}
	s := New(q, tenants, zerolog.Nop())

	require.NoError(t, s.ScheduleDriftCheck("@every 50ms"))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return q.Size() >= 2 }, time.Second, 10*time.Millisecond)

	seen := map[string]bool{}
	for {
		job, ok := q.Dequeue()
		if !ok {
			break
		}
		require.Equal(t, queue.JobTypeDriftCheck, job.Type)
		seen[job.TenantID] = true
	}
	require.True(t, seen["tenant-a"])
	require.True(t, seen["tenant-b"])
}

func TestScheduleRetrainSweepCarriesScheduledReason(t *testing.T) {
	q := queue.NewMemQueue()
	s := New(q, []domain.TenantID{"tenant-a"}, zerolog.Nop())

	require.NoError(t, s.ScheduleRetrainSweep("@every 50ms"))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return q.Size() >= 1 }, time.Second, 10*time.Millisecond)

	job, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, queue.JobTypeRetrain, job.Type)
	require.Equal(t, "scheduled_sweep", job.Payload["reason"])
}

func TestInvalidCronExpressionIsRejected(t *testing.T) {
	q := queue.NewMemQueue()
	s := New(q, []domain.TenantID{"tenant-a"}, zerolog.Nop())
	require.Error(t, s.ScheduleDriftCheck("not a cron expression"))
}
