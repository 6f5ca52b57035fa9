package base

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/errors"
)

func newTestScheduler() *Scheduler {
	return NewScheduler(core.PlatformWhatsApp, zap.NewNop())
}

func countingPublish(calls *atomic.Int32) PublishFunc {
	return func(ctx context.Context, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
		calls.Add(1)
		return &core.PublishResult{ExternalID: "fired", State: core.ContentStatePublished}, nil
	}
}

func TestScheduleFiresAndRemovesJob(t *testing.T) {
	s := newTestScheduler()
	var calls atomic.Int32

	job, err := s.Schedule(&core.ContentEnvelope{Text: "hi"},
		time.Now().Add(30*time.Millisecond), countingPublish(&calls))
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.True(t, s.Has(job.ID))

	assert.Eventually(t, func() bool { return calls.Load() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !s.Has(job.ID) },
		time.Second, 5*time.Millisecond, "fired job must be removed")
}

func TestScheduleRejectsPastTime(t *testing.T) {
	s := newTestScheduler()
	var calls atomic.Int32

	_, err := s.Schedule(&core.ContentEnvelope{Text: "hi"},
		time.Now().Add(-time.Second), countingPublish(&calls))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Empty(t, s.Pending())
}

func TestCancelBeforeFireNeverPublishes(t *testing.T) {
	s := newTestScheduler()
	var calls atomic.Int32

	job, err := s.Schedule(&core.ContentEnvelope{Text: "hi"},
		time.Now().Add(50*time.Millisecond), countingPublish(&calls))
	require.NoError(t, err)
	require.NoError(t, s.Cancel(job.ID))
	assert.False(t, s.Has(job.ID))

	time.Sleep(120 * time.Millisecond)
	assert.Zero(t, calls.Load(), "cancelled job must not publish")
}

func TestCancelUnknownJob(t *testing.T) {
	s := newTestScheduler()

	err := s.Cancel("no-such-job")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidConnectorReference))
}

func TestCancelAll(t *testing.T) {
	s := newTestScheduler()
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		_, err := s.Schedule(&core.ContentEnvelope{Text: "hi"},
			time.Now().Add(time.Hour), countingPublish(&calls))
		require.NoError(t, err)
	}
	require.Len(t, s.Pending(), 3)

	assert.Equal(t, 3, s.CancelAll())
	assert.Empty(t, s.Pending())
	assert.Zero(t, s.CancelAll(), "idempotent on an empty scheduler")
}
