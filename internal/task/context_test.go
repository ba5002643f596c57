package task_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/events"
	"github.com/plumehq/plume-jobs/internal/lifecycle"
	"github.com/plumehq/plume-jobs/internal/platform/memory"
	"github.com/plumehq/plume-jobs/internal/task"
)

func newTestReporter(t *testing.T) (*lifecycle.Manager, *memory.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.NewStore(log)
	return lifecycle.NewManager(st, st, events.NewBroker(4, log), log), st
}

func claimedJob(t *testing.T, m *lifecycle.Manager, st *memory.Store, params string) *domain.Job {
	t.Helper()
	job, err := domain.NewJob(uuid.New(), task.TypeEcho, json.RawMessage(params))
	require.NoError(t, err)
	require.NoError(t, st.Create(context.Background(), job))
	claimed, applied, err := m.Claim(context.Background(), job.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, applied)
	return claimed
}

func TestContextReportsProgress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st := newTestReporter(t)
	job := claimedJob(t, m, st, `{"value":42}`)

	tctx := task.NewContext(ctx, job, m)
	require.NoError(t, tctx.ReportProgress(40, "fetching posts"))

	got, err := st.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.ProgressPercent)
	assert.Equal(t, "fetching posts", got.ProgressMessage)

	assert.ErrorIs(t, tctx.ReportProgress(101, "too far"), domain.ErrInvalidProgress)
}

func TestContextDropsRefusedProgress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st := newTestReporter(t)
	job := claimedJob(t, m, st, `{}`)

	_, applied, err := m.Complete(ctx, job.ID, json.RawMessage(`{"done":true}`))
	require.NoError(t, err)
	require.True(t, applied)

	// The job moved on; a straggling report is absorbed without error.
	tctx := task.NewContext(ctx, job, m)
	require.NoError(t, tctx.ReportProgress(90, "almost"))

	got, err := st.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPercent)
}

func TestContextAppendsLogEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st := newTestReporter(t)
	job := claimedJob(t, m, st, `{}`)

	tctx := task.NewContext(ctx, job, m)
	require.NoError(t, tctx.Log(domain.LogLevelInfo, "fetched 12 posts", json.RawMessage(`{"count":12}`)))

	entries, total, err := st.ListByJob(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, domain.LogLevelInfo, entries[0].Level)
	assert.Equal(t, "fetched 12 posts", entries[0].Message)
	assert.JSONEq(t, `{"count":12}`, string(entries[0].Metadata))
}

func TestContextCancellationFlag(t *testing.T) {
	t.Parallel()
	m, st := newTestReporter(t)
	job := claimedJob(t, m, st, `{}`)

	tctx := task.NewContext(context.Background(), job, m)
	assert.False(t, tctx.Cancelled())

	tctx.MarkCancelled()
	assert.True(t, tctx.Cancelled())
}

func TestContextExposesJobSnapshot(t *testing.T) {
	t.Parallel()
	m, st := newTestReporter(t)
	job := claimedJob(t, m, st, `{"value":42}`)

	tctx := task.NewContext(context.Background(), job, m)
	assert.Equal(t, job.ID, tctx.JobID())
	assert.Equal(t, job, tctx.Job())
	assert.JSONEq(t, `{"value":42}`, string(tctx.Params()))

	assert.Panics(t, func() { task.NewContext(context.Background(), nil, m) })
	assert.Panics(t, func() { task.NewContext(context.Background(), job, nil) })
}

func TestEchoHandlerRoundTripsParams(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, st := newTestReporter(t)
	job := claimedJob(t, m, st, `{"value":42}`)

	result, err := task.EchoHandler{}.Execute(task.NewContext(ctx, job, m))
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":42}`, string(result))

	got, err := st.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.ProgressPercent)
	assert.Equal(t, "halfway", got.ProgressMessage)
}
