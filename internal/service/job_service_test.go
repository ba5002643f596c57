package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/config"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/events"
	"github.com/plumehq/plume-jobs/internal/lifecycle"
	"github.com/plumehq/plume-jobs/internal/platform/memory"
	"github.com/plumehq/plume-jobs/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRegistry treats its keys as the registered job types.
type stubRegistry map[string]bool

func (r stubRegistry) Has(jobType string) bool { return r[jobType] }

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		DefaultMaxRetries:  3,
		DefaultPriority:    100,
		OwnerActiveCeiling: 10,
		DedupWindow:        5 * time.Minute,
		ResultCacheTTL:     time.Hour,
		PendingTTL:         24 * time.Hour,
		StuckTimeout:       30 * time.Minute,
		RetryBackoffBase:   30 * time.Second,
		RetryBackoffCap:    time.Hour,
		RetentionWindow:    720 * time.Hour,
		ClaimBatchSize:     10,
		SweepBatchSize:     100,
	}
}

func newTestJobService(t *testing.T, cfg config.EngineConfig) (JobService, *memory.Store, *lifecycle.Manager) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.NewStore(log)
	manager := lifecycle.NewManager(st, st, events.NewBroker(4, log), log)
	registry := stubRegistry{"content_sync": true, "content_enrich": true, "echo": true}

	svc, err := NewJobService(st, st, manager, registry, cfg, log)
	require.NoError(t, err)
	return svc, st, manager
}

func syncRequest(params string) CreateJobRequest {
	return CreateJobRequest{
		JobType: "content_sync",
		Params:  json.RawMessage(params),
	}
}

func TestNewJobServiceValidatesDependencies(t *testing.T) {
	t.Parallel()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.NewStore(log)
	manager := lifecycle.NewManager(st, st, events.NewBroker(4, log), log)
	registry := stubRegistry{}

	_, err := NewJobService(nil, st, manager, registry, testEngineConfig(), log)
	assert.Error(t, err)

	_, err = NewJobService(st, nil, manager, registry, testEngineConfig(), log)
	assert.Error(t, err)

	_, err = NewJobService(st, st, nil, registry, testEngineConfig(), log)
	assert.Error(t, err)

	_, err = NewJobService(st, st, manager, nil, testEngineConfig(), log)
	assert.Error(t, err)
}

func TestJobServiceCreateAppliesEngineDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newTestJobService(t, testEngineConfig())
	ownerID := uuid.New()

	job, err := svc.CreateJob(ctx, ownerID, syncRequest(`{"platform":"medium"}`))
	require.NoError(t, err)

	assert.Equal(t, ownerID, job.OwnerID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 100, job.Priority)
	assert.Equal(t, 3, job.MaxRetries)
	assert.WithinDuration(t, job.CreatedAt, job.ScheduledFor, time.Second)
	require.NotNil(t, job.ExpiresAt)
	assert.WithinDuration(t, job.CreatedAt.Add(24*time.Hour), *job.ExpiresAt, time.Second)
}

func TestJobServiceCreateHonorsOverrides(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newTestJobService(t, testEngineConfig())

	priority := 5
	maxRetries := 0
	scheduledFor := time.Now().UTC().Add(time.Hour)
	expiresIn := 48 * time.Hour

	job, err := svc.CreateJob(ctx, uuid.New(), CreateJobRequest{
		JobType:      "content_sync",
		Params:       json.RawMessage(`{"platform":"medium"}`),
		Priority:     &priority,
		MaxRetries:   &maxRetries,
		ScheduledFor: &scheduledFor,
		ExpiresIn:    &expiresIn,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, job.Priority)
	assert.Equal(t, 0, job.MaxRetries)
	assert.WithinDuration(t, scheduledFor, job.ScheduledFor, time.Second)
	require.NotNil(t, job.ExpiresAt)
	assert.WithinDuration(t, job.CreatedAt.Add(48*time.Hour), *job.ExpiresAt, time.Second)
}

func TestJobServiceCreateRejectsUnknownType(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestJobService(t, testEngineConfig())

	_, err := svc.CreateJob(context.Background(), uuid.New(), CreateJobRequest{
		JobType: "transmute_lead",
		Params:  json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestJobServiceCreateRejectsInvalidExpiry(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestJobService(t, testEngineConfig())

	bad := -time.Minute
	_, err := svc.CreateJob(context.Background(), uuid.New(), CreateJobRequest{
		JobType:   "content_sync",
		Params:    json.RawMessage(`{}`),
		ExpiresIn: &bad,
	})
	assert.ErrorIs(t, err, ErrInvalidExpiry)
}

func TestJobServiceCreateRateLimitsAtCeiling(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testEngineConfig()
	cfg.OwnerActiveCeiling = 2
	svc, _, manager := newTestJobService(t, cfg)
	ownerID := uuid.New()

	first, err := svc.CreateJob(ctx, ownerID, syncRequest(`{"n":1}`))
	require.NoError(t, err)
	_, err = svc.CreateJob(ctx, ownerID, syncRequest(`{"n":2}`))
	require.NoError(t, err)

	_, err = svc.CreateJob(ctx, ownerID, syncRequest(`{"n":3}`))
	assert.ErrorIs(t, err, ErrRateLimited)

	// A terminal job frees a slot.
	_, applied, err := manager.Claim(ctx, first.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, applied)
	_, applied, err = manager.Complete(ctx, first.ID, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.True(t, applied)

	_, err = svc.CreateJob(ctx, ownerID, syncRequest(`{"n":3}`))
	assert.NoError(t, err)
}

func TestJobServiceFindOrCreateDeduplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newTestJobService(t, testEngineConfig())
	ownerID := uuid.New()

	first, created, err := svc.FindOrCreateJob(ctx, ownerID, syncRequest(`{"platform":"medium","account":"a-1"}`))
	require.NoError(t, err)
	assert.True(t, created)

	// Same params in a different key order still deduplicate.
	second, created, err := svc.FindOrCreateJob(ctx, ownerID, syncRequest(`{"account":"a-1","platform":"medium"}`))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// Different params create a new job.
	third, created, err := svc.FindOrCreateJob(ctx, ownerID, syncRequest(`{"platform":"substack"}`))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestJobServiceGetCachedResult(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, manager := newTestJobService(t, testEngineConfig())
	ownerID := uuid.New()
	params := json.RawMessage(`{"platform":"medium"}`)

	// No completion yet.
	_, err := svc.GetCachedResult(ctx, ownerID, "content_sync", params, time.Hour)
	assert.ErrorIs(t, err, ErrNoCachedResult)

	job, err := svc.CreateJob(ctx, ownerID, syncRequest(string(params)))
	require.NoError(t, err)
	_, applied, err := manager.Claim(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, applied)
	_, applied, err = manager.Complete(ctx, job.ID, json.RawMessage(`{"synced":4}`))
	require.NoError(t, err)
	require.True(t, applied)

	cached, err := svc.GetCachedResult(ctx, ownerID, "content_sync", params, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, job.ID, cached.ID)
	assert.JSONEq(t, `{"synced":4}`, string(cached.Result))

	// Different params miss.
	_, err = svc.GetCachedResult(ctx, ownerID, "content_sync", json.RawMessage(`{"platform":"substack"}`), time.Hour)
	assert.ErrorIs(t, err, ErrNoCachedResult)

	// A stale completion misses. The completion timestamp is backdated
	// through the store.
	old, err := svc.CreateJob(ctx, ownerID, syncRequest(`{"platform":"ghost"}`))
	require.NoError(t, err)
	past := time.Now().UTC().Add(-2 * time.Hour)
	applied, err = st.Claim(ctx, old.ID, "worker-1", past)
	require.NoError(t, err)
	require.True(t, applied)
	applied, err = st.Complete(ctx, old.ID, json.RawMessage(`{"synced":1}`), past)
	require.NoError(t, err)
	require.True(t, applied)

	_, err = svc.GetCachedResult(ctx, ownerID, "content_sync", json.RawMessage(`{"platform":"ghost"}`), time.Hour)
	assert.ErrorIs(t, err, ErrNoCachedResult)
}

func TestJobServiceGetJobEnforcesOwnership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newTestJobService(t, testEngineConfig())
	ownerID := uuid.New()

	job, err := svc.CreateJob(ctx, ownerID, syncRequest(`{}`))
	require.NoError(t, err)

	got, err := svc.GetJob(ctx, ownerID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	// Another owner sees exactly what they would for a missing job.
	_, err = svc.GetJob(ctx, uuid.New(), job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = svc.GetJob(ctx, ownerID, uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobServiceListJobsReturnsTotal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newTestJobService(t, testEngineConfig())
	ownerID := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := svc.CreateJob(ctx, ownerID, syncRequest(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
	}

	jobs, total, err := svc.ListJobs(ctx, ownerID, store.JobFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Equal(t, 3, total)
}

func TestJobServiceCancelJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newTestJobService(t, testEngineConfig())
	ownerID := uuid.New()

	job, err := svc.CreateJob(ctx, ownerID, syncRequest(`{}`))
	require.NoError(t, err)

	got, cancelled, err := svc.CancelJob(ctx, ownerID, job.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)

	// Cancelling again reports the no-op without an error.
	got, cancelled, err = svc.CancelJob(ctx, ownerID, job.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)

	// Other owners cannot cancel.
	_, _, err = svc.CancelJob(ctx, uuid.New(), job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobServiceGetJobLogs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, manager := newTestJobService(t, testEngineConfig())
	ownerID := uuid.New()

	job, err := svc.CreateJob(ctx, ownerID, syncRequest(`{}`))
	require.NoError(t, err)

	require.NoError(t, manager.AppendLog(ctx, job.ID, domain.LogLevelInfo, "starting sync", nil))
	require.NoError(t, manager.AppendLog(ctx, job.ID, domain.LogLevelInfo, "fetched 3 posts", nil))

	entries, total, err := svc.GetJobLogs(ctx, ownerID, job.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "starting sync", entries[0].Message)

	_, _, err = svc.GetJobLogs(ctx, uuid.New(), job.ID, 10, 0)
	assert.ErrorIs(t, err, ErrJobNotFound)
}
