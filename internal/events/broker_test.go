package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEventTestJob(t *testing.T, ownerID uuid.UUID) *domain.Job {
	t.Helper()
	job, err := domain.NewJob(ownerID, "content_sync", json.RawMessage(`{"account":"a-1"}`))
	require.NoError(t, err)
	return job
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewJobEventSnapshotsJob(t *testing.T) {
	job := newEventTestJob(t, uuid.New())
	job.Status = domain.JobStatusFailed
	job.ErrorCode = "UPSTREAM_TIMEOUT"
	job.ErrorMessage = "timed out"
	job.ProgressPercent = 40
	job.RetryCount = 1
	job.MaxRetries = 3

	event := NewJobEvent(job)

	assert.Equal(t, job.ID, event.JobID)
	assert.Equal(t, job.OwnerID, event.OwnerID)
	assert.Equal(t, domain.JobStatusFailed, event.Status)
	assert.Equal(t, 40, event.ProgressPercent)
	assert.Equal(t, "timed out", event.ErrorMessage)
	assert.True(t, event.WillRetry, "failed job with retries remaining should report will_retry")

	// An expired failure never retries
	job.ErrorCode = domain.ErrorCodeExpired
	event = NewJobEvent(job)
	assert.False(t, event.WillRetry)
}

func TestBrokerDeliversToOwnerSubscribers(t *testing.T) {
	broker := NewBroker(4, discardLogger())
	ownerID := uuid.New()

	ch, cancel := broker.Subscribe(ownerID)
	defer cancel()

	otherCh, otherCancel := broker.Subscribe(uuid.New())
	defer otherCancel()

	job := newEventTestJob(t, ownerID)
	require.NoError(t, broker.Publish(context.Background(), NewJobEvent(job)))

	select {
	case event := <-ch:
		assert.Equal(t, job.ID, event.JobID)
	case <-time.After(time.Second):
		t.Fatal("expected event for subscribed owner")
	}

	select {
	case event := <-otherCh:
		t.Fatalf("unexpected event delivered to other owner: %v", event.JobID)
	default:
	}
}

func TestBrokerDropsOldestWhenSubscriberLags(t *testing.T) {
	broker := NewBroker(2, discardLogger())
	ownerID := uuid.New()

	ch, cancel := broker.Subscribe(ownerID)
	defer cancel()

	// Three publishes into a buffer of two: the first event is dropped
	for i := 1; i <= 3; i++ {
		job := newEventTestJob(t, ownerID)
		job.ProgressPercent = i * 10
		require.NoError(t, broker.Publish(context.Background(), NewJobEvent(job)))
	}

	first := <-ch
	second := <-ch
	assert.Equal(t, 20, first.ProgressPercent, "oldest event should have been dropped")
	assert.Equal(t, 30, second.ProgressPercent)

	select {
	case event := <-ch:
		t.Fatalf("expected empty buffer, got event with progress %d", event.ProgressPercent)
	default:
	}
}

func TestBrokerCancelClosesChannel(t *testing.T) {
	broker := NewBroker(2, discardLogger())
	ownerID := uuid.New()

	ch, cancel := broker.Subscribe(ownerID)
	assert.Equal(t, 1, broker.SubscriberCount(ownerID))

	cancel()
	assert.Equal(t, 0, broker.SubscriberCount(ownerID))

	_, open := <-ch
	assert.False(t, open, "cancel should close the subscriber channel")

	// Cancelling twice is harmless
	cancel()

	// Publishing after cancel delivers nowhere and does not panic
	require.NoError(t, broker.Publish(context.Background(), NewJobEvent(newEventTestJob(t, ownerID))))
}

func TestMultiPublisherAttemptsAll(t *testing.T) {
	broker1 := NewBroker(2, discardLogger())
	broker2 := NewBroker(2, discardLogger())
	ownerID := uuid.New()

	ch1, cancel1 := broker1.Subscribe(ownerID)
	defer cancel1()
	ch2, cancel2 := broker2.Subscribe(ownerID)
	defer cancel2()

	multi := MultiPublisher{broker1, broker2}
	require.NoError(t, multi.Publish(context.Background(), NewJobEvent(newEventTestJob(t, ownerID))))

	select {
	case <-ch1:
	case <-time.After(time.Second):
		t.Fatal("first transport did not receive the event")
	}
	select {
	case <-ch2:
	case <-time.After(time.Second):
		t.Fatal("second transport did not receive the event")
	}
}

func TestTopicFormat(t *testing.T) {
	ownerID := uuid.New()
	assert.Equal(t, "jobs:events:"+ownerID.String(), Topic(ownerID))
}
