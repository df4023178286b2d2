// Package scheduler enqueues the two genuinely periodic jobs this engine
// runs: drift checks and retrain sweeps (spec.md §4.12). Everything else
// (export, promote) is event-triggered from within the pipeline and the job
// handlers themselves, so it has no cron cadence.
package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/ledgerwell/decisioning/internal/queue"
)

// Scheduler wraps a cron.Cron that enqueues time-based jobs onto a
// queue.Queue, one enqueue per configured tenant per tick. Adapted from the
// teacher's ticker-loop internal/queue.Scheduler, but the two jobs here
// really are calendar-periodic, so this uses cron/v3's standard 5-field
// expressions instead of hand-rolled tickers.
type Scheduler struct {
	cron    *cron.Cron
	q       queue.Queue
	tenants []domain.TenantID
	log     zerolog.Logger
}

// New builds a Scheduler that will enqueue jobs for the given tenants onto q.
func New(q queue.Queue, tenants []domain.TenantID, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		q:       q,
		tenants: tenants,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
}

// ScheduleDriftCheck registers a JobTypeDriftCheck enqueue at the given
// standard cron expression (e.g. config.Config.DriftCheckCron).
func (s *Scheduler) ScheduleDriftCheck(expr string) error {
	return s.addPeriodicEnqueue(expr, queue.JobTypeDriftCheck, queue.PriorityMedium, nil)
}

// ScheduleRetrainSweep registers a JobTypeRetrain enqueue at the given
// standard cron expression (e.g. config.Config.RetrainSweepCron). This is
// the calendar-driven sweep independent of drift.Evaluate's own
// ShouldRetrain trigger (handled inline by the drift-check handler).
func (s *Scheduler) ScheduleRetrainSweep(expr string) error {
	return s.addPeriodicEnqueue(expr, queue.JobTypeRetrain, queue.PriorityLow, map[string]interface{}{"reason": "scheduled_sweep"})
}

func (s *Scheduler) addPeriodicEnqueue(expr string, jobType queue.JobType, priority queue.Priority, payload map[string]interface{}) error {
	_, err := s.cron.AddFunc(expr, func() {
		for _, tenant := range s.tenants {
			job := &queue.Job{
				TenantID: string(tenant),
				Type:     jobType,
				Priority: priority,
				Payload:  payload,
			}
			if err := s.q.Enqueue(job); err != nil {
				s.log.Error().Err(err).Str("tenant", string(tenant)).Str("job_type", string(jobType)).Msg("scheduler: enqueue failed")
				continue
			}
			s.log.Debug().Str("tenant", string(tenant)).Str("job_type", string(jobType)).Msg("scheduler: enqueued")
		}
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", expr).Str("job_type", string(jobType)).Msg("scheduler: job registered")
	return nil
}

// Start begins running registered schedules in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler: started")
}

// Stop halts the scheduler and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler: stopped")
}
