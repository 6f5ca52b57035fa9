package base

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/errors"
	"github.com/meridianhq/meridian/pkg/metrics"
)

// PublishFunc performs the deferred publish when a fallback job fires
type PublishFunc func(ctx context.Context, envelope *core.ContentEnvelope) (*core.PublishResult, error)

// ScheduledJob is one pending deferred publish held by the fallback
// scheduler.
type ScheduledJob struct {
	ID       string
	Envelope *core.ContentEnvelope
	FireAt   time.Time

	timer     *time.Timer
	cancelled bool
}

// Scheduler emulates deferred publishing for platforms whose API has no
// native schedule support. Jobs live in process memory only: they do not
// survive a restart, and discarding the owning connector cancels them.
type Scheduler struct {
	platform core.Platform
	logger   *zap.Logger

	mu   sync.Mutex
	jobs map[string]*ScheduledJob
}

// NewScheduler creates an empty fallback scheduler
func NewScheduler(platform core.Platform, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		platform: platform,
		logger:   logger.With(zap.String("component", "scheduler")),
		jobs:     make(map[string]*ScheduledJob),
	}
}

func (s *Scheduler) setPendingGauge(n int) {
	metrics.ScheduledJobsPending.WithLabelValues(string(s.platform)).Set(float64(n))
}

// Schedule registers a deferred publish that fires at the given time. The
// publish function runs on the timer goroutine with a fresh context; its
// outcome is logged and counted but has no caller to report to.
func (s *Scheduler) Schedule(envelope *core.ContentEnvelope, at time.Time, publish PublishFunc) (*ScheduledJob, error) {
	delay := time.Until(at)
	if delay <= 0 {
		return nil, errors.New(errors.ErrTypeValidation, "scheduled time must be in the future")
	}

	job := &ScheduledJob{
		ID:       uuid.New().String(),
		Envelope: envelope,
		FireAt:   at,
	}

	s.mu.Lock()
	job.timer = time.AfterFunc(delay, func() { s.fire(job.ID, publish) })
	s.jobs[job.ID] = job
	pending := len(s.jobs)
	s.mu.Unlock()

	s.setPendingGauge(pending)
	s.logger.Info("scheduled deferred publish",
		zap.String("job_id", job.ID),
		zap.Time("fire_at", at))

	return job, nil
}

// Cancel removes a pending job before it fires. Cancelling an already-fired
// or unknown job returns invalid_connector_reference; a cancelled job never
// publishes.
func (s *Scheduler) Cancel(jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return errors.Newf(errors.ErrTypeInvalidConnectorReference,
			"no pending scheduled job %q", jobID)
	}
	job.cancelled = true
	job.timer.Stop()
	delete(s.jobs, jobID)
	pending := len(s.jobs)
	s.mu.Unlock()

	s.setPendingGauge(pending)
	s.logger.Info("cancelled scheduled publish", zap.String("job_id", jobID))
	return nil
}

// Pending returns the IDs of jobs that have not yet fired
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Has reports whether a job is still pending
func (s *Scheduler) Has(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[jobID]
	return ok
}

// CancelAll cancels every pending job and returns how many were cancelled.
// Called when the owning connector instance is discarded.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	n := len(s.jobs)
	for id, job := range s.jobs {
		job.cancelled = true
		job.timer.Stop()
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	if n > 0 {
		s.setPendingGauge(0)
	}
	return n
}

// fire runs on the timer goroutine. The job is removed whether the publish
// succeeds or fails; a job cancelled after the timer fired but before the
// lock was taken is a no-op.
func (s *Scheduler) fire(jobID string, publish PublishFunc) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok || job.cancelled {
		s.mu.Unlock()
		return
	}
	delete(s.jobs, jobID)
	pending := len(s.jobs)
	s.mu.Unlock()

	s.setPendingGauge(pending)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := publish(ctx, job.Envelope)
	if err != nil {
		s.logger.Error("deferred publish failed",
			zap.String("job_id", jobID),
			zap.Error(err))
		return
	}
	s.logger.Info("deferred publish completed",
		zap.String("job_id", jobID),
		zap.String("external_id", result.ExternalID))
}
