package mocks

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/domain"
)

// MockJobSource implements the worker-endpoint job source for testing
type MockJobSource struct {
	// NextJobFn allows test cases to mock the NextJob behavior
	NextJobFn func(ctx context.Context, workerID string) (*domain.Job, error)

	// Default values used when the function isn't explicitly defined.
	// A nil Job with nil Err models an empty queue.
	Job *domain.Job
	Err error
}

// NextJob implements the api.JobSource interface
func (m *MockJobSource) NextJob(ctx context.Context, workerID string) (*domain.Job, error) {
	if m.NextJobFn != nil {
		return m.NextJobFn(ctx, workerID)
	}
	return m.Job, m.Err
}

// MockLifecycleDriver implements the worker-endpoint lifecycle slice for testing
type MockLifecycleDriver struct {
	// ReportProgressFn allows test cases to mock the ReportProgress behavior
	ReportProgressFn func(ctx context.Context, id uuid.UUID, percent int, message string) (*domain.Job, bool, error)

	// CompleteFn allows test cases to mock the Complete behavior
	CompleteFn func(ctx context.Context, id uuid.UUID, result json.RawMessage) (*domain.Job, bool, error)

	// FailFn allows test cases to mock the Fail behavior
	FailFn func(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) (*domain.Job, bool, error)

	// AppendLogFn allows test cases to mock the AppendLog behavior
	AppendLogFn func(ctx context.Context, jobID uuid.UUID, level domain.LogLevel, message string, metadata json.RawMessage) error

	// Default values used when functions aren't explicitly defined
	Job     *domain.Job
	Applied bool
	Err     error
}

// ReportProgress implements the api.LifecycleDriver interface
func (m *MockLifecycleDriver) ReportProgress(ctx context.Context, id uuid.UUID, percent int, message string) (*domain.Job, bool, error) {
	if m.ReportProgressFn != nil {
		return m.ReportProgressFn(ctx, id, percent, message)
	}
	return m.Job, m.Applied, m.Err
}

// Complete implements the api.LifecycleDriver interface
func (m *MockLifecycleDriver) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) (*domain.Job, bool, error) {
	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, id, result)
	}
	return m.Job, m.Applied, m.Err
}

// Fail implements the api.LifecycleDriver interface
func (m *MockLifecycleDriver) Fail(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) (*domain.Job, bool, error) {
	if m.FailFn != nil {
		return m.FailFn(ctx, id, errorCode, errorMessage)
	}
	return m.Job, m.Applied, m.Err
}

// AppendLog implements the api.LifecycleDriver interface
func (m *MockLifecycleDriver) AppendLog(ctx context.Context, jobID uuid.UUID, level domain.LogLevel, message string, metadata json.RawMessage) error {
	if m.AppendLogFn != nil {
		return m.AppendLogFn(ctx, jobID, level, message, metadata)
	}
	return m.Err
}

// MockSweepRunner implements the operational sweep slice for testing
type MockSweepRunner struct {
	// RetrySweepFn allows test cases to mock the RetrySweep behavior
	RetrySweepFn func(ctx context.Context) (int, error)

	// ExpirySweepFn allows test cases to mock the ExpirySweep behavior
	ExpirySweepFn func(ctx context.Context) (int, error)

	// StuckSweepFn allows test cases to mock the StuckSweep behavior
	StuckSweepFn func(ctx context.Context) (int, error)

	// RetentionSweepFn allows test cases to mock the RetentionSweep behavior
	RetentionSweepFn func(ctx context.Context) (int, error)

	// Default values used when functions aren't explicitly defined
	Count int
	Err   error
}

// RetrySweep implements the api.SweepRunner interface
func (m *MockSweepRunner) RetrySweep(ctx context.Context) (int, error) {
	if m.RetrySweepFn != nil {
		return m.RetrySweepFn(ctx)
	}
	return m.Count, m.Err
}

// ExpirySweep implements the api.SweepRunner interface
func (m *MockSweepRunner) ExpirySweep(ctx context.Context) (int, error) {
	if m.ExpirySweepFn != nil {
		return m.ExpirySweepFn(ctx)
	}
	return m.Count, m.Err
}

// StuckSweep implements the api.SweepRunner interface
func (m *MockSweepRunner) StuckSweep(ctx context.Context) (int, error) {
	if m.StuckSweepFn != nil {
		return m.StuckSweepFn(ctx)
	}
	return m.Count, m.Err
}

// RetentionSweep implements the api.SweepRunner interface
func (m *MockSweepRunner) RetentionSweep(ctx context.Context) (int, error) {
	if m.RetentionSweepFn != nil {
		return m.RetentionSweepFn(ctx)
	}
	return m.Count, m.Err
}
