package health

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/config"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCadenceRunsConfiguredSweeps(t *testing.T) {
	monitor, st, _ := newTestMonitor(t, testEngineConfig())
	ctx := context.Background()

	job, err := domain.NewJob(uuid.New(), "content_sync", nil)
	require.NoError(t, err)
	deadline := time.Now().UTC().Add(-time.Minute)
	job.ExpiresAt = &deadline
	require.NoError(t, st.Create(ctx, job))

	cadence := NewCadence(monitor, config.WorkerConfig{
		ExpirySweepInterval: 5 * time.Millisecond,
	}, nil)
	require.NoError(t, cadence.Start())
	defer cadence.Stop()

	require.Eventually(t, func() bool {
		got, err := st.GetByID(ctx, job.ID)
		return err == nil && got.Status == domain.JobStatusFailed
	}, time.Second, 5*time.Millisecond)

	got, err := st.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorCodeExpired, got.ErrorCode)
}

func TestCadenceStartTwiceFails(t *testing.T) {
	monitor, _, _ := newTestMonitor(t, testEngineConfig())
	cadence := NewCadence(monitor, config.WorkerConfig{
		RetrySweepInterval: time.Hour,
	}, nil)

	require.NoError(t, cadence.Start())
	defer cadence.Stop()
	assert.Error(t, cadence.Start())
}

func TestCadenceStopWaitsWithNoLoops(t *testing.T) {
	monitor, _, _ := newTestMonitor(t, testEngineConfig())

	// All intervals unset: nothing launches, Stop returns immediately.
	cadence := NewCadence(monitor, config.WorkerConfig{}, nil)
	require.NoError(t, cadence.Start())
	cadence.Stop()
}

func TestNewCadenceRequiresMonitor(t *testing.T) {
	assert.Panics(t, func() {
		NewCadence(nil, config.WorkerConfig{}, nil)
	})
}
