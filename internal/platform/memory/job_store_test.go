package memory

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestJob(t *testing.T, ownerID uuid.UUID) *domain.Job {
	t.Helper()
	job, err := domain.NewJob(ownerID, "content_sync", json.RawMessage(`{"platform":"medium","account":"a-1"}`))
	require.NoError(t, err)
	return job
}

// claimJob moves a job into processing for test setup.
func claimJob(t *testing.T, s *Store, id uuid.UUID, workerID string) {
	t.Helper()
	applied, err := s.Claim(context.Background(), id, workerID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, applied, "setup claim should apply")
}

func TestStoreCreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	job := newTestJob(t, uuid.New())

	require.NoError(t, s.Create(ctx, job))

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.OwnerID, got.OwnerID)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.JSONEq(t, string(job.Params), string(got.Params))

	// Duplicate IDs are rejected
	err = s.Create(ctx, job)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	// Unknown IDs report not found
	_, err = s.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestStoreCreateValidatesJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	job := newTestJob(t, uuid.New())
	job.JobType = ""

	err := s.Create(ctx, job)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJobTypeEmpty)
}

func TestStoreReturnedJobsAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	job := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, job))

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	got.Status = domain.JobStatusCancelled
	got.Params[0] = 'X'

	again, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, again.Status, "stored job must not alias returned copies")
	assert.JSONEq(t, string(job.Params), string(again.Params))
}

func TestStoreCreateWithLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	ownerID := uuid.New()

	// Fill up to the ceiling
	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateWithLimit(ctx, newTestJob(t, ownerID), 3))
	}

	// At the ceiling the next create is refused
	err := s.CreateWithLimit(ctx, newTestJob(t, ownerID), 3)
	assert.ErrorIs(t, err, store.ErrOwnerJobLimit)

	// Other owners are unaffected
	require.NoError(t, s.CreateWithLimit(ctx, newTestJob(t, uuid.New()), 3))

	// Terminal jobs do not count against the ceiling
	jobs, err := s.List(ctx, ownerID, store.JobFilter{})
	require.NoError(t, err)
	claimJob(t, s, jobs[0].ID, "w-1")
	applied, err := s.Complete(ctx, jobs[0].ID, json.RawMessage(`{}`), time.Now().UTC())
	require.NoError(t, err)
	require.True(t, applied)

	require.NoError(t, s.CreateWithLimit(ctx, newTestJob(t, ownerID), 3))

	// Ceiling zero disables the check
	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateWithLimit(ctx, newTestJob(t, ownerID), 0))
	}
}

func TestStoreFindOrCreateDeduplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	ownerID := uuid.New()

	first, err := domain.NewJob(ownerID, "content_sync", json.RawMessage(`{"account":"a-1","platform":"medium"}`))
	require.NoError(t, err)
	got, created, err := s.FindOrCreate(ctx, first, 5*time.Minute, 10)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.ID, got.ID)

	// Same params with different key order and whitespace dedup to the first job
	second, err := domain.NewJob(ownerID, "content_sync", json.RawMessage(`{ "platform" : "medium", "account": "a-1" }`))
	require.NoError(t, err)
	got, created, err = s.FindOrCreate(ctx, second, 5*time.Minute, 10)
	require.NoError(t, err)
	assert.False(t, created, "structurally equal params should dedup")
	assert.Equal(t, first.ID, got.ID)

	// Different params create a new job
	third, err := domain.NewJob(ownerID, "content_sync", json.RawMessage(`{"platform":"medium","account":"a-2"}`))
	require.NoError(t, err)
	got, created, err = s.FindOrCreate(ctx, third, 5*time.Minute, 10)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, third.ID, got.ID)

	// A different owner with identical params creates a new job
	other, err := domain.NewJob(uuid.New(), "content_sync", json.RawMessage(`{"platform":"medium","account":"a-1"}`))
	require.NoError(t, err)
	_, created, err = s.FindOrCreate(ctx, other, 5*time.Minute, 10)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestStoreFindOrCreateIgnoresOldAndTerminalJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	ownerID := uuid.New()
	params := json.RawMessage(`{"account":"a-1"}`)

	// An old pending job outside the window does not dedup
	old, err := domain.NewJob(ownerID, "content_sync", params)
	require.NoError(t, err)
	old.CreatedAt = old.CreatedAt.Add(-10 * time.Minute)
	require.NoError(t, s.Create(ctx, old))

	candidate, err := domain.NewJob(ownerID, "content_sync", params)
	require.NoError(t, err)
	_, created, err := s.FindOrCreate(ctx, candidate, 5*time.Minute, 0)
	require.NoError(t, err)
	assert.True(t, created, "jobs outside the dedup window must not match")

	// A cancelled job inside the window does not dedup
	applied, err := s.Cancel(ctx, candidate.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, applied)

	next, err := domain.NewJob(ownerID, "content_sync", params)
	require.NoError(t, err)
	_, created, err = s.FindOrCreate(ctx, next, 5*time.Minute, 0)
	require.NoError(t, err)
	assert.True(t, created, "terminal jobs must not match")
}

func TestStoreFindOrCreateRespectsCeiling(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	ownerID := uuid.New()

	require.NoError(t, s.Create(ctx, newTestJob(t, ownerID)))

	// Different params, ceiling of one: refused
	candidate, err := domain.NewJob(ownerID, "content_enrich", json.RawMessage(`{"post":"p-9"}`))
	require.NoError(t, err)
	_, _, err = s.FindOrCreate(ctx, candidate, 5*time.Minute, 1)
	assert.ErrorIs(t, err, store.ErrOwnerJobLimit)
}

func TestStoreClaimExactlyOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	job := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, job))

	const claimers = 20
	var wg sync.WaitGroup
	wins := make(chan string, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			workerID := string(rune('a' + n%26))
			applied, err := s.Claim(ctx, job.ID, workerID, time.Now().UTC())
			assert.NoError(t, err)
			if applied {
				wins <- workerID
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	winners := make([]string, 0, 1)
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one concurrent claim must win")

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	require.NotNil(t, got.WorkerID)
	assert.Equal(t, winners[0], *got.WorkerID)
	assert.NotNil(t, got.StartedAt)
}

func TestStoreProgressNeverRegresses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	job := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, job))
	claimJob(t, s, job.ID, "w-1")

	now := time.Now().UTC()
	applied, err := s.UpdateProgress(ctx, job.ID, 50, "halfway", now)
	require.NoError(t, err)
	require.True(t, applied)

	// A lower report keeps the stored percent but replaces the message
	applied, err = s.UpdateProgress(ctx, job.ID, 30, "late report", now.Add(time.Second))
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.ProgressPercent, "progress must never regress")
	assert.Equal(t, "late report", got.ProgressMessage)

	// Progress reports on non-processing jobs do not apply
	applied, err = s.Complete(ctx, job.ID, json.RawMessage(`{}`), now.Add(2*time.Second))
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = s.UpdateProgress(ctx, job.ID, 80, "too late", now.Add(3*time.Second))
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestStoreCompleteIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	job := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, job))
	claimJob(t, s, job.ID, "w-1")

	now := time.Now().UTC()
	result := json.RawMessage(`{"posts_synced":12}`)

	applied, err := s.Complete(ctx, job.ID, result, now)
	require.NoError(t, err)
	require.True(t, applied)

	// A duplicate completion does not apply and changes nothing
	applied, err = s.Complete(ctx, job.ID, json.RawMessage(`{"posts_synced":99}`), now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.JSONEq(t, string(result), string(got.Result))
	assert.Equal(t, 100, got.ProgressPercent)
	assert.Nil(t, got.WorkerID, "completed jobs carry no worker")
	require.NotNil(t, got.CompletedAt)
}

func TestStoreFailRecordsError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	job := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, job))
	claimJob(t, s, job.ID, "w-1")

	applied, err := s.Fail(ctx, job.ID, "UPSTREAM_TIMEOUT", "medium API timed out", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "UPSTREAM_TIMEOUT", got.ErrorCode)
	assert.Equal(t, "medium API timed out", got.ErrorMessage)
	assert.Nil(t, got.WorkerID)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.WillRetry(), "failed job with retries remaining should be retryable")
}

func TestStoreCancelFromPendingAndProcessing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	pending := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, pending))
	applied, err := s.Cancel(ctx, pending.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, applied)

	processing := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, processing))
	claimJob(t, s, processing.ID, "w-1")
	applied, err = s.Cancel(ctx, processing.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.GetByID(ctx, processing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
	assert.Nil(t, got.WorkerID)

	// Cancelling a terminal job does not apply
	applied, err = s.Cancel(ctx, processing.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestStoreExpireRequiresDeadlinePassed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	now := time.Now().UTC()

	job := newTestJob(t, uuid.New())
	future := now.Add(time.Hour)
	job.ExpiresAt = &future
	require.NoError(t, s.Create(ctx, job))

	// Not expired yet
	applied, err := s.Expire(ctx, job.ID, now)
	require.NoError(t, err)
	assert.False(t, applied)

	// Past the deadline
	applied, err = s.Expire(ctx, job.ID, future.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, domain.ErrorCodeExpired, got.ErrorCode)
	assert.False(t, got.WillRetry(), "expired jobs are terminal")
}

func TestStoreRequeueForRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	job := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, job))
	claimJob(t, s, job.ID, "w-1")

	now := time.Now().UTC()
	applied, err := s.Fail(ctx, job.ID, "UPSTREAM_TIMEOUT", "timeout", now)
	require.NoError(t, err)
	require.True(t, applied)

	scheduledFor := now.Add(30 * time.Second)
	applied, err = s.RequeueForRetry(ctx, job.ID, scheduledFor, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.ErrorCode)
	assert.Empty(t, got.ErrorMessage)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.StartedAt)
	assert.Equal(t, 0, got.ProgressPercent)
	assert.True(t, got.ScheduledFor.Equal(scheduledFor))
}

func TestStoreRequeueForRetryGuards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	now := time.Now().UTC()

	// Exhausted jobs are not requeued
	exhausted := newTestJob(t, uuid.New())
	exhausted.MaxRetries = 0
	require.NoError(t, s.Create(ctx, exhausted))
	claimJob(t, s, exhausted.ID, "w-1")
	applied, err := s.Fail(ctx, exhausted.ID, "BOOM", "failed", now)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = s.RequeueForRetry(ctx, exhausted.ID, now, now)
	require.NoError(t, err)
	assert.False(t, applied, "exhausted jobs must stay failed")

	// Expired jobs are not requeued
	expired := newTestJob(t, uuid.New())
	past := now.Add(-time.Hour)
	expired.ExpiresAt = &past
	require.NoError(t, s.Create(ctx, expired))
	applied, err = s.Expire(ctx, expired.ID, now)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = s.RequeueForRetry(ctx, expired.ID, now, now)
	require.NoError(t, err)
	assert.False(t, applied, "expired jobs must stay failed")
}

func TestStoreRequeueStalled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	now := time.Now().UTC()

	job := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, job))
	claimJob(t, s, job.ID, "w-1")

	applied, err := s.RequeueStalled(ctx, job.ID, now)
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount, "reclaiming a stalled job consumes a retry")
	assert.Nil(t, got.WorkerID)

	// Without retries remaining the stalled job cannot be requeued
	exhausted := newTestJob(t, uuid.New())
	exhausted.MaxRetries = 0
	require.NoError(t, s.Create(ctx, exhausted))
	claimJob(t, s, exhausted.ID, "w-2")

	applied, err = s.RequeueStalled(ctx, exhausted.ID, now)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestStoreFindClaimableOrderAndFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	ownerID := uuid.New()
	now := time.Now().UTC()

	// C has the most urgent priority, A and B share one with A created first
	jobA := newTestJob(t, ownerID)
	jobA.Priority = 100
	jobA.CreatedAt = now.Add(-3 * time.Minute)
	require.NoError(t, s.Create(ctx, jobA))

	jobB := newTestJob(t, ownerID)
	jobB.Priority = 100
	jobB.CreatedAt = now.Add(-2 * time.Minute)
	require.NoError(t, s.Create(ctx, jobB))

	jobC := newTestJob(t, ownerID)
	jobC.Priority = 10
	jobC.CreatedAt = now.Add(-time.Minute)
	require.NoError(t, s.Create(ctx, jobC))

	// Not yet due
	future := newTestJob(t, ownerID)
	future.ScheduledFor = now.Add(time.Hour)
	require.NoError(t, s.Create(ctx, future))

	// Already expired
	expired := newTestJob(t, ownerID)
	past := now.Add(-time.Minute)
	expired.ExpiresAt = &past
	require.NoError(t, s.Create(ctx, expired))

	claimable, err := s.FindClaimable(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimable, 3)
	assert.Equal(t, jobC.ID, claimable[0].ID, "lowest priority value dispatches first")
	assert.Equal(t, jobA.ID, claimable[1].ID, "FIFO within equal priority")
	assert.Equal(t, jobB.ID, claimable[2].ID)

	// Limit caps the batch
	claimable, err = s.FindClaimable(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, claimable, 2)
}

func TestStoreFindRetryCandidates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	now := time.Now().UTC()

	retriable := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, retriable))
	claimJob(t, s, retriable.ID, "w-1")
	applied, err := s.Fail(ctx, retriable.ID, "BOOM", "failed", now.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, applied)

	recent := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, recent))
	claimJob(t, s, recent.ID, "w-2")
	applied, err = s.Fail(ctx, recent.ID, "BOOM", "failed", now)
	require.NoError(t, err)
	require.True(t, applied)

	// Only the old failure is a candidate for the cutoff
	candidates, err := s.FindRetryCandidates(ctx, now.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, retriable.ID, candidates[0].ID)
}

func TestStoreFindStalled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	now := time.Now().UTC()

	stalled := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, stalled))
	applied, err := s.Claim(ctx, stalled.ID, "w-1", now.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, applied)

	active := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, active))
	applied, err = s.Claim(ctx, active.ID, "w-2", now)
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.FindStalled(ctx, now.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stalled.ID, got[0].ID)

	// A progress report refreshes the job and removes it from the stalled set
	applied, err = s.UpdateProgress(ctx, stalled.ID, 10, "still alive", now)
	require.NoError(t, err)
	require.True(t, applied)

	got, err = s.FindStalled(ctx, now.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStoreListFiltersAndPagination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	ownerID := uuid.New()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		job := newTestJob(t, ownerID)
		job.CreatedAt = now.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.Create(ctx, job))
	}
	enrich, err := domain.NewJob(ownerID, "content_enrich", json.RawMessage(`{"post":"p-1"}`))
	require.NoError(t, err)
	enrich.CreatedAt = now.Add(10 * time.Second)
	require.NoError(t, s.Create(ctx, enrich))
	claimJob(t, s, enrich.ID, "w-1")

	// Default sort is newest first
	jobs, err := s.List(ctx, ownerID, store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 6)
	assert.Equal(t, enrich.ID, jobs[0].ID)

	// Filter by type
	jobs, err = s.List(ctx, ownerID, store.JobFilter{JobType: "content_enrich"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, enrich.ID, jobs[0].ID)

	// Filter by status
	processing := domain.JobStatusProcessing
	jobs, err = s.List(ctx, ownerID, store.JobFilter{Status: &processing})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	// Pagination in ascending order
	jobs, err = s.List(ctx, ownerID, store.JobFilter{Sort: store.SortCreatedAtAsc, Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	// Count ignores pagination but honors the filters
	total, err := s.Count(ctx, ownerID, store.JobFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	total, err = s.Count(ctx, ownerID, store.JobFilter{JobType: "content_enrich"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	total, err = s.Count(ctx, ownerID, store.JobFilter{Status: &processing})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	// Another owner sees nothing
	jobs, err = s.List(ctx, uuid.New(), store.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
	total, err = s.Count(ctx, uuid.New(), store.JobFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestStoreFindCompletedMatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	ownerID := uuid.New()
	now := time.Now().UTC()
	params := json.RawMessage(`{"account":"a-1"}`)

	finish := func(completedAt time.Time, result string) uuid.UUID {
		job, err := domain.NewJob(ownerID, "content_sync", params)
		require.NoError(t, err)
		require.NoError(t, s.Create(ctx, job))
		claimJob(t, s, job.ID, "w-1")
		applied, err := s.Complete(ctx, job.ID, json.RawMessage(result), completedAt)
		require.NoError(t, err)
		require.True(t, applied)
		return job.ID
	}

	finish(now.Add(-50*time.Minute), `{"n":1}`)
	newest := finish(now.Add(-10*time.Minute), `{"n":2}`)

	// The most recent completion within the window wins
	got, err := s.FindCompletedMatch(ctx, ownerID, "content_sync", json.RawMessage(`{ "account" : "a-1" }`), now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, newest, got.ID)
	assert.JSONEq(t, `{"n":2}`, string(got.Result))

	// Outside the window nothing matches
	_, err = s.FindCompletedMatch(ctx, ownerID, "content_sync", params, now.Add(-5*time.Minute))
	assert.ErrorIs(t, err, store.ErrJobNotFound)

	// Different params never match
	_, err = s.FindCompletedMatch(ctx, ownerID, "content_sync", json.RawMessage(`{"account":"a-2"}`), now.Add(-time.Hour))
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestStoreJobLogs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	job := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, job))

	for i := 0; i < 5; i++ {
		entry, err := domain.NewJobLogEntry(job.ID, domain.LogLevelInfo, "step", json.RawMessage(`{"i":1}`))
		require.NoError(t, err)
		require.NoError(t, s.Append(ctx, entry))
	}

	entries, total, err := s.ListByJob(ctx, job.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, entries, 2)

	entries, total, err = s.ListByJob(ctx, job.ID, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, entries, 1)

	// Appending to an unknown job fails
	orphan, err := domain.NewJobLogEntry(uuid.New(), domain.LogLevelInfo, "orphan", nil)
	require.NoError(t, err)
	err = s.Append(ctx, orphan)
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestStorePurgeTerminalBefore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	now := time.Now().UTC()

	// An old completed job with logs
	oldJob := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, oldJob))
	claimJob(t, s, oldJob.ID, "w-1")
	applied, err := s.Complete(ctx, oldJob.ID, json.RawMessage(`{}`), now.Add(-48*time.Hour))
	require.NoError(t, err)
	require.True(t, applied)
	entry, err := domain.NewJobLogEntry(oldJob.ID, domain.LogLevelInfo, "done", nil)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, entry))

	// A recent completed job and an active job survive
	recentJob := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, recentJob))
	claimJob(t, s, recentJob.ID, "w-2")
	applied, err = s.Complete(ctx, recentJob.ID, json.RawMessage(`{}`), now)
	require.NoError(t, err)
	require.True(t, applied)

	activeJob := newTestJob(t, uuid.New())
	require.NoError(t, s.Create(ctx, activeJob))

	purged, err := s.PurgeTerminalBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = s.GetByID(ctx, oldJob.ID)
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	_, total, err := s.ListByJob(ctx, oldJob.ID, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total, "purging a job removes its logs")

	_, err = s.GetByID(ctx, recentJob.ID)
	assert.NoError(t, err)
	_, err = s.GetByID(ctx, activeJob.ID)
	assert.NoError(t, err)
}
