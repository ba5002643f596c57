package mocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/service"
	"github.com/plumehq/plume-jobs/internal/store"
)

// MockJobService implements service.JobService for testing
type MockJobService struct {
	// CreateJobFn allows test cases to mock the CreateJob behavior
	CreateJobFn func(ctx context.Context, ownerID uuid.UUID, req service.CreateJobRequest) (*domain.Job, error)

	// FindOrCreateJobFn allows test cases to mock the FindOrCreateJob behavior
	FindOrCreateJobFn func(ctx context.Context, ownerID uuid.UUID, req service.CreateJobRequest) (*domain.Job, bool, error)

	// GetCachedResultFn allows test cases to mock the GetCachedResult behavior
	GetCachedResultFn func(ctx context.Context, ownerID uuid.UUID, jobType string, params json.RawMessage, maxAge time.Duration) (*domain.Job, error)

	// GetJobFn allows test cases to mock the GetJob behavior
	GetJobFn func(ctx context.Context, ownerID, jobID uuid.UUID) (*domain.Job, error)

	// ListJobsFn allows test cases to mock the ListJobs behavior
	ListJobsFn func(ctx context.Context, ownerID uuid.UUID, filter store.JobFilter) ([]*domain.Job, int, error)

	// CancelJobFn allows test cases to mock the CancelJob behavior
	CancelJobFn func(ctx context.Context, ownerID, jobID uuid.UUID) (*domain.Job, bool, error)

	// GetJobLogsFn allows test cases to mock the GetJobLogs behavior
	GetJobLogsFn func(ctx context.Context, ownerID, jobID uuid.UUID, limit, offset int) ([]*domain.JobLogEntry, int, error)

	// Default values used when functions aren't explicitly defined
	Job       *domain.Job
	Jobs      []*domain.Job
	Entries   []*domain.JobLogEntry
	Total     int
	Created   bool
	Cancelled bool
	Err       error
}

var _ service.JobService = (*MockJobService)(nil)

// CreateJob implements the service.JobService interface
func (m *MockJobService) CreateJob(ctx context.Context, ownerID uuid.UUID, req service.CreateJobRequest) (*domain.Job, error) {
	if m.CreateJobFn != nil {
		return m.CreateJobFn(ctx, ownerID, req)
	}
	return m.Job, m.Err
}

// FindOrCreateJob implements the service.JobService interface
func (m *MockJobService) FindOrCreateJob(ctx context.Context, ownerID uuid.UUID, req service.CreateJobRequest) (*domain.Job, bool, error) {
	if m.FindOrCreateJobFn != nil {
		return m.FindOrCreateJobFn(ctx, ownerID, req)
	}
	return m.Job, m.Created, m.Err
}

// GetCachedResult implements the service.JobService interface
func (m *MockJobService) GetCachedResult(ctx context.Context, ownerID uuid.UUID, jobType string, params json.RawMessage, maxAge time.Duration) (*domain.Job, error) {
	if m.GetCachedResultFn != nil {
		return m.GetCachedResultFn(ctx, ownerID, jobType, params, maxAge)
	}
	return m.Job, m.Err
}

// GetJob implements the service.JobService interface
func (m *MockJobService) GetJob(ctx context.Context, ownerID, jobID uuid.UUID) (*domain.Job, error) {
	if m.GetJobFn != nil {
		return m.GetJobFn(ctx, ownerID, jobID)
	}
	return m.Job, m.Err
}

// ListJobs implements the service.JobService interface
func (m *MockJobService) ListJobs(ctx context.Context, ownerID uuid.UUID, filter store.JobFilter) ([]*domain.Job, int, error) {
	if m.ListJobsFn != nil {
		return m.ListJobsFn(ctx, ownerID, filter)
	}
	return m.Jobs, m.Total, m.Err
}

// CancelJob implements the service.JobService interface
func (m *MockJobService) CancelJob(ctx context.Context, ownerID, jobID uuid.UUID) (*domain.Job, bool, error) {
	if m.CancelJobFn != nil {
		return m.CancelJobFn(ctx, ownerID, jobID)
	}
	return m.Job, m.Cancelled, m.Err
}

// GetJobLogs implements the service.JobService interface
func (m *MockJobService) GetJobLogs(ctx context.Context, ownerID, jobID uuid.UUID, limit, offset int) ([]*domain.JobLogEntry, int, error) {
	if m.GetJobLogsFn != nil {
		return m.GetJobLogsFn(ctx, ownerID, jobID, limit, offset)
	}
	return m.Entries, m.Total, m.Err
}
