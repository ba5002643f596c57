package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/events"
	"github.com/plumehq/plume-jobs/internal/platform/memory"
	"github.com/plumehq/plume-jobs/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturePublisher records published events and can be told to fail.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.JobEvent
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, event events.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) all() []events.JobEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.JobEvent, len(p.events))
	copy(out, p.events)
	return out
}

func newTestManager(t *testing.T) (*Manager, *memory.Store, *capturePublisher) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.NewStore(log)
	pub := &capturePublisher{}
	return NewManager(st, st, pub, log), st, pub
}

func createTestJob(t *testing.T, st *memory.Store) *domain.Job {
	t.Helper()
	job, err := domain.NewJob(uuid.New(), "content_sync", json.RawMessage(`{"platform":"medium"}`))
	require.NoError(t, err)
	require.NoError(t, st.Create(context.Background(), job))
	return job
}

func TestManagerClaimTransitionsAndPublishes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, pub := newTestManager(t)
	job := createTestJob(t, st)

	got, applied, err := m.Claim(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	require.NotNil(t, got.WorkerID)
	assert.Equal(t, "worker-1", *got.WorkerID)
	require.NotNil(t, got.StartedAt)

	published := pub.all()
	require.Len(t, published, 1)
	assert.Equal(t, job.ID, published[0].JobID)
	assert.Equal(t, job.OwnerID, published[0].OwnerID)
	assert.Equal(t, domain.JobStatusProcessing, published[0].Status)
	assert.Equal(t, 0, published[0].ProgressPercent)
}

func TestManagerClaimSecondClaimerLoses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, pub := newTestManager(t)
	job := createTestJob(t, st)

	_, applied, err := m.Claim(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, applied)

	got, applied, err := m.Claim(ctx, job.ID, "worker-2")
	require.NoError(t, err)
	assert.False(t, applied, "second claim must not apply")
	require.NotNil(t, got, "loser still sees current state")
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	require.NotNil(t, got.WorkerID)
	assert.Equal(t, "worker-1", *got.WorkerID)

	// Only the winning claim published an event.
	assert.Len(t, pub.all(), 1)
}

func TestManagerClaimMissingJob(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t)

	got, applied, err := m.Claim(context.Background(), uuid.New(), "worker-1")
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	assert.False(t, applied)
	assert.Nil(t, got)
}

func TestManagerReportProgressValidatesPercent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, _ := newTestManager(t)
	job := createTestJob(t, st)

	_, _, err := m.ReportProgress(ctx, job.ID, 101, "too far")
	assert.ErrorIs(t, err, domain.ErrInvalidProgress)

	_, _, err = m.ReportProgress(ctx, job.ID, -1, "too little")
	assert.ErrorIs(t, err, domain.ErrInvalidProgress)
}

func TestManagerReportProgressNeverRegresses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, pub := newTestManager(t)
	job := createTestJob(t, st)

	_, applied, err := m.Claim(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, applied)

	got, applied, err := m.ReportProgress(ctx, job.ID, 50, "halfway")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 50, got.ProgressPercent)
	assert.Equal(t, "halfway", got.ProgressMessage)

	// A stale lower report keeps the percent but refreshes the message.
	got, applied, err = m.ReportProgress(ctx, job.ID, 30, "replaying step")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 50, got.ProgressPercent)
	assert.Equal(t, "replaying step", got.ProgressMessage)

	published := pub.all()
	require.Len(t, published, 3) // claim + two progress reports
	assert.Equal(t, 50, published[2].ProgressPercent)
	assert.Equal(t, "replaying step", published[2].ProgressMessage)
}

func TestManagerReportProgressRequiresProcessing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, _ := newTestManager(t)
	job := createTestJob(t, st)

	got, applied, err := m.ReportProgress(ctx, job.ID, 10, "early")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.ProgressPercent)
}

func TestManagerCompleteIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, pub := newTestManager(t)
	job := createTestJob(t, st)

	_, applied, err := m.Claim(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, applied)

	result := json.RawMessage(`{"synced":12}`)
	got, applied, err := m.Complete(ctx, job.ID, result)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPercent)
	assert.JSONEq(t, string(result), string(got.Result))
	require.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.WorkerID)

	// A late duplicate complete is a no-op that leaves the result alone.
	got, applied, err = m.Complete(ctx, job.ID, json.RawMessage(`{"synced":99}`))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.JSONEq(t, string(result), string(got.Result))

	published := pub.all()
	require.Len(t, published, 2) // claim + the single applied complete
	assert.Equal(t, domain.JobStatusCompleted, published[1].Status)
	assert.Equal(t, 100, published[1].ProgressPercent)
}

func TestManagerFailRecordsLogBeforeState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, pub := newTestManager(t)
	job := createTestJob(t, st)

	_, applied, err := m.Claim(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, applied)

	got, applied, err := m.Fail(ctx, job.ID, "SYNC_UPSTREAM", "upstream returned 503")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "SYNC_UPSTREAM", got.ErrorCode)
	assert.Equal(t, "upstream returned 503", got.ErrorMessage)
	assert.Nil(t, got.WorkerID)
	assert.True(t, got.WillRetry(), "first failure leaves retries remaining")

	entries, total, err := st.ListByJob(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, domain.LogLevelError, entries[0].Level)
	assert.Equal(t, "upstream returned 503", entries[0].Message)
	assert.JSONEq(t, `{"error_code":"SYNC_UPSTREAM"}`, string(entries[0].Metadata))

	published := pub.all()
	require.Len(t, published, 2)
	assert.Equal(t, domain.JobStatusFailed, published[1].Status)
	assert.Equal(t, "upstream returned 503", published[1].ErrorMessage)
	assert.True(t, published[1].WillRetry)
}

func TestManagerFailMissingJob(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t)

	_, applied, err := m.Fail(context.Background(), uuid.New(), "SYNC_UPSTREAM", "boom")
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	assert.False(t, applied)
}

func TestManagerFailDefaultsEmptyLogMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, _ := newTestManager(t)
	job := createTestJob(t, st)

	_, applied, err := m.Claim(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, applied)

	_, applied, err = m.Fail(ctx, job.ID, "HANDLER_PANIC", "")
	require.NoError(t, err)
	assert.True(t, applied)

	entries, _, err := st.ListByJob(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job failed", entries[0].Message)
}

func TestManagerCancelPendingAndProcessing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, pub := newTestManager(t)

	pending := createTestJob(t, st)
	got, applied, err := m.Cancel(ctx, pending.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
	assert.Nil(t, got.StartedAt)

	processing := createTestJob(t, st)
	_, applied, err = m.Claim(ctx, processing.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, applied)

	got, applied, err = m.Cancel(ctx, processing.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
	assert.Nil(t, got.WorkerID)
	require.NotNil(t, got.StartedAt, "cancellation keeps the claim timestamp")

	// Cancelling a finished job is a no-op.
	got, applied, err = m.Cancel(ctx, pending.ID)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)

	published := pub.all()
	require.Len(t, published, 3) // cancel + claim + cancel
	assert.Equal(t, domain.JobStatusCancelled, published[2].Status)
}

func TestManagerExpireAppendsLogEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, pub := newTestManager(t)

	job, err := domain.NewJob(uuid.New(), "content_sync", nil)
	require.NoError(t, err)
	expires := time.Now().UTC().Add(-time.Minute)
	job.ExpiresAt = &expires
	require.NoError(t, st.Create(ctx, job))

	got, applied, err := m.Expire(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, domain.ErrorCodeExpired, got.ErrorCode)
	assert.False(t, got.WillRetry(), "expiry is terminal")

	entries, total, err := st.ListByJob(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, domain.LogLevelWarning, entries[0].Level)
	assert.Contains(t, entries[0].Message, "expired")

	published := pub.all()
	require.Len(t, published, 1)
	assert.Equal(t, domain.JobStatusFailed, published[0].Status)
	assert.False(t, published[0].WillRetry)
}

func TestManagerExpireWithoutDeadlineIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, pub := newTestManager(t)
	job := createTestJob(t, st)

	got, applied, err := m.Expire(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Empty(t, pub.all())

	// No log entry for a refused expiry.
	_, total, err := st.ListByJob(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestManagerRequeueForRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, pub := newTestManager(t)
	job := createTestJob(t, st)

	_, applied, err := m.Claim(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, applied)
	_, applied, err = m.Fail(ctx, job.ID, "SYNC_UPSTREAM", "upstream returned 503")
	require.NoError(t, err)
	require.True(t, applied)

	scheduledFor := time.Now().UTC().Add(30 * time.Second)
	got, applied, err := m.RequeueForRetry(ctx, job.ID, scheduledFor)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.ErrorCode)
	assert.Nil(t, got.CompletedAt)
	assert.WithinDuration(t, scheduledFor, got.ScheduledFor, time.Second)

	// Requeueing a job that is already pending again is a no-op.
	_, applied, err = m.RequeueForRetry(ctx, job.ID, scheduledFor)
	require.NoError(t, err)
	assert.False(t, applied)

	published := pub.all()
	require.Len(t, published, 3) // claim, fail, requeue
	assert.Equal(t, domain.JobStatusPending, published[2].Status)
}

func TestManagerRequeueStalledRecordsReclaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, pub := newTestManager(t)
	job := createTestJob(t, st)

	_, applied, err := m.Claim(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, applied)

	got, applied, err := m.RequeueStalled(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.WorkerID)
	assert.Nil(t, got.StartedAt)

	entries, total, err := st.ListByJob(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, domain.LogLevelWarning, entries[0].Level)
	assert.Contains(t, entries[0].Message, "reclaiming")
	assert.JSONEq(t, `{"error_code":"STUCK"}`, string(entries[0].Metadata))

	published := pub.all()
	require.Len(t, published, 2)
	assert.Equal(t, domain.JobStatusPending, published[1].Status)
}

func TestManagerRequeueStalledRequiresProcessing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, _ := newTestManager(t)
	job := createTestJob(t, st)

	got, applied, err := m.RequeueStalled(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Zero(t, got.RetryCount)
}

func TestManagerAppendLog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, _ := newTestManager(t)
	job := createTestJob(t, st)

	err := m.AppendLog(ctx, job.ID, domain.LogLevelInfo, "fetched 3 posts", json.RawMessage(`{"fetched":3}`))
	require.NoError(t, err)

	entries, total, err := st.ListByJob(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, domain.LogLevelInfo, entries[0].Level)
	assert.Equal(t, "fetched 3 posts", entries[0].Message)

	err = m.AppendLog(ctx, uuid.New(), domain.LogLevelInfo, "orphan", nil)
	assert.ErrorIs(t, err, store.ErrJobNotFound)

	err = m.AppendLog(ctx, job.ID, "shouting", "bad level", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidLogLevel)
}

func TestManagerPublishFailureDoesNotFailTransition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st, pub := newTestManager(t)
	job := createTestJob(t, st)

	pub.mu.Lock()
	pub.err = errors.New("broker unavailable")
	pub.mu.Unlock()

	got, applied, err := m.Claim(ctx, job.ID, "worker-1")
	require.NoError(t, err, "publish failures never surface to the caller")
	assert.True(t, applied)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
}
