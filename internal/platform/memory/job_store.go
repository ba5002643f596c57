package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/store"
)

// Compile-time checks that Store satisfies the store interfaces.
var (
	_ store.JobStore    = (*Store)(nil)
	_ store.JobLogStore = (*Store)(nil)
)

// Store implements store.JobStore and store.JobLogStore with in-memory maps.
// Jobs and log entries are deep-copied on the way in and out so callers can
// never mutate shared state.
type Store struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*domain.Job
	logs   map[uuid.UUID][]*domain.JobLogEntry
	logger *slog.Logger
}

// NewStore creates an empty in-memory store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		jobs:   make(map[uuid.UUID]*domain.Job),
		logs:   make(map[uuid.UUID][]*domain.JobLogEntry),
		logger: logger.With(slog.String("component", "memory_store")),
	}
}

func (s *Store) lock()   { s.mu.Lock() }
func (s *Store) unlock() { s.mu.Unlock() }

// Create saves a new job.
func (s *Store) Create(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return store.NewStoreError("job", "create", "invalid job", err)
	}

	s.lock()
	defer s.unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return store.ErrDuplicate
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// CreateWithLimit saves a new job unless the owner is at the active ceiling.
func (s *Store) CreateWithLimit(ctx context.Context, job *domain.Job, ceiling int) error {
	if err := job.Validate(); err != nil {
		return store.NewStoreError("job", "create", "invalid job", err)
	}

	s.lock()
	defer s.unlock()

	if ceiling > 0 && s.countActiveLocked(job.OwnerID) >= ceiling {
		return store.ErrOwnerJobLimit
	}
	if _, exists := s.jobs[job.ID]; exists {
		return store.ErrDuplicate
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// FindOrCreate returns an in-flight duplicate created within the window, or
// saves the candidate job. The dedup window is anchored at the candidate's
// creation time.
func (s *Store) FindOrCreate(ctx context.Context, job *domain.Job, window time.Duration, ceiling int) (*domain.Job, bool, error) {
	if err := job.Validate(); err != nil {
		return nil, false, store.NewStoreError("job", "find_or_create", "invalid job", err)
	}

	cutoff := job.CreatedAt.Add(-window)

	s.lock()
	defer s.unlock()

	var match *domain.Job
	for _, existing := range s.jobs {
		if existing.OwnerID != job.OwnerID || existing.JobType != job.JobType {
			continue
		}
		if existing.Status != domain.JobStatusPending && existing.Status != domain.JobStatusProcessing {
			continue
		}
		if existing.CreatedAt.Before(cutoff) {
			continue
		}
		if !paramsEqual(existing.Params, job.Params) {
			continue
		}
		if match == nil || existing.CreatedAt.After(match.CreatedAt) {
			match = existing
		}
	}
	if match != nil {
		return cloneJob(match), false, nil
	}

	if ceiling > 0 && s.countActiveLocked(job.OwnerID) >= ceiling {
		return nil, false, store.ErrOwnerJobLimit
	}
	if _, exists := s.jobs[job.ID]; exists {
		return nil, false, store.ErrDuplicate
	}
	s.jobs[job.ID] = cloneJob(job)
	return cloneJob(job), true, nil
}

// GetByID retrieves a job by ID.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.lock()
	defer s.unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// List retrieves the owner's jobs matching the filter.
func (s *Store) List(ctx context.Context, ownerID uuid.UUID, filter store.JobFilter) ([]*domain.Job, error) {
	s.lock()
	defer s.unlock()

	matched := make([]*domain.Job, 0)
	for _, job := range s.jobs {
		if job.OwnerID != ownerID {
			continue
		}
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		if filter.JobType != "" && job.JobType != filter.JobType {
			continue
		}
		matched = append(matched, job)
	}

	switch filter.Sort {
	case store.SortCreatedAtAsc:
		sort.Slice(matched, func(i, j int) bool {
			if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].CreatedAt.Before(matched[j].CreatedAt)
			}
			return lessID(matched[i].ID, matched[j].ID)
		})
	case store.SortPriority:
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].Priority != matched[j].Priority {
				return matched[i].Priority < matched[j].Priority
			}
			if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].CreatedAt.Before(matched[j].CreatedAt)
			}
			return lessID(matched[i].ID, matched[j].ID)
		})
	default: // store.SortCreatedAtDesc
		sort.Slice(matched, func(i, j int) bool {
			if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].CreatedAt.After(matched[j].CreatedAt)
			}
			return lessID(matched[i].ID, matched[j].ID)
		})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	if limit > store.MaxListLimit {
		limit = store.MaxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	if offset >= len(matched) {
		return []*domain.Job{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}

	page := make([]*domain.Job, 0, end-offset)
	for _, job := range matched[offset:end] {
		page = append(page, cloneJob(job))
	}
	return page, nil
}

// Count returns how many of the owner's jobs match the filter's status and
// job type, ignoring pagination.
func (s *Store) Count(ctx context.Context, ownerID uuid.UUID, filter store.JobFilter) (int, error) {
	s.lock()
	defer s.unlock()

	count := 0
	for _, job := range s.jobs {
		if job.OwnerID != ownerID {
			continue
		}
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		if filter.JobType != "" && job.JobType != filter.JobType {
			continue
		}
		count++
	}
	return count, nil
}

// CountActiveByOwner counts the owner's pending and processing jobs.
func (s *Store) CountActiveByOwner(ctx context.Context, ownerID uuid.UUID) (int, error) {
	s.lock()
	defer s.unlock()
	return s.countActiveLocked(ownerID), nil
}

// FindCompletedMatch retrieves the most recent matching completed job.
func (s *Store) FindCompletedMatch(ctx context.Context, ownerID uuid.UUID, jobType string, params json.RawMessage, since time.Time) (*domain.Job, error) {
	s.lock()
	defer s.unlock()

	var match *domain.Job
	for _, job := range s.jobs {
		if job.OwnerID != ownerID || job.JobType != jobType || job.Status != domain.JobStatusCompleted {
			continue
		}
		if job.CompletedAt == nil || job.CompletedAt.Before(since) {
			continue
		}
		if !paramsEqual(job.Params, params) {
			continue
		}
		if match == nil || job.CompletedAt.After(*match.CompletedAt) {
			match = job
		}
	}
	if match == nil {
		return nil, store.ErrJobNotFound
	}
	return cloneJob(match), nil
}

// FindClaimable retrieves due, unexpired pending jobs in dispatch order.
func (s *Store) FindClaimable(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	s.lock()
	defer s.unlock()

	candidates := make([]*domain.Job, 0)
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusPending {
			continue
		}
		if job.ScheduledFor.After(now) {
			continue
		}
		if job.HasExpired(now) {
			continue
		}
		candidates = append(candidates, job)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return lessID(candidates[i].ID, candidates[j].ID)
	})

	return clonePage(candidates, limit), nil
}

// FindRetryCandidates retrieves failed jobs with retries remaining whose
// failure happened at or before the cutoff.
func (s *Store) FindRetryCandidates(ctx context.Context, failedBefore time.Time, limit int) ([]*domain.Job, error) {
	s.lock()
	defer s.unlock()

	candidates := make([]*domain.Job, 0)
	for _, job := range s.jobs {
		if !job.WillRetry() {
			continue
		}
		if job.CompletedAt == nil || job.CompletedAt.After(failedBefore) {
			continue
		}
		candidates = append(candidates, job)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CompletedAt.Equal(*candidates[j].CompletedAt) {
			return candidates[i].CompletedAt.Before(*candidates[j].CompletedAt)
		}
		return lessID(candidates[i].ID, candidates[j].ID)
	})

	return clonePage(candidates, limit), nil
}

// FindExpiredPending retrieves pending jobs past their expiry deadline.
func (s *Store) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	s.lock()
	defer s.unlock()

	candidates := make([]*domain.Job, 0)
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusPending || !job.HasExpired(now) {
			continue
		}
		candidates = append(candidates, job)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return lessID(candidates[i].ID, candidates[j].ID)
	})

	return clonePage(candidates, limit), nil
}

// FindStalled retrieves processing jobs with no update since the cutoff.
func (s *Store) FindStalled(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error) {
	s.lock()
	defer s.unlock()

	candidates := make([]*domain.Job, 0)
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusProcessing {
			continue
		}
		if job.UpdatedAt.After(cutoff) {
			continue
		}
		candidates = append(candidates, job)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].UpdatedAt.Equal(candidates[j].UpdatedAt) {
			return candidates[i].UpdatedAt.Before(candidates[j].UpdatedAt)
		}
		return lessID(candidates[i].ID, candidates[j].ID)
	})

	return clonePage(candidates, limit), nil
}

// Claim transitions a pending job to processing for workerID.
func (s *Store) Claim(ctx context.Context, id uuid.UUID, workerID string, now time.Time) (bool, error) {
	s.lock()
	defer s.unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != domain.JobStatusPending {
		return false, nil
	}

	started := now
	job.Status = domain.JobStatusProcessing
	job.WorkerID = &workerID
	job.StartedAt = &started
	job.ProgressPercent = 0
	job.ProgressMessage = ""
	job.UpdatedAt = now
	return true, nil
}

// UpdateProgress updates a processing job's progress without regressions.
func (s *Store) UpdateProgress(ctx context.Context, id uuid.UUID, percent int, message string, now time.Time) (bool, error) {
	s.lock()
	defer s.unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing {
		return false, nil
	}

	if percent > job.ProgressPercent {
		job.ProgressPercent = percent
	}
	job.ProgressMessage = message
	job.UpdatedAt = now
	return true, nil
}

// Complete transitions a processing job to completed with its result.
func (s *Store) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage, now time.Time) (bool, error) {
	s.lock()
	defer s.unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing {
		return false, nil
	}

	completed := now
	job.Status = domain.JobStatusCompleted
	job.Result = append(json.RawMessage(nil), result...)
	job.ProgressPercent = 100
	job.WorkerID = nil
	job.CompletedAt = &completed
	job.UpdatedAt = now
	return true, nil
}

// Fail transitions a processing job to failed with the given error.
func (s *Store) Fail(ctx context.Context, id uuid.UUID, errorCode, errorMessage string, now time.Time) (bool, error) {
	s.lock()
	defer s.unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing {
		return false, nil
	}

	completed := now
	job.Status = domain.JobStatusFailed
	job.ErrorCode = errorCode
	job.ErrorMessage = errorMessage
	job.WorkerID = nil
	job.CompletedAt = &completed
	job.UpdatedAt = now
	return true, nil
}

// Cancel transitions a pending or processing job to cancelled.
func (s *Store) Cancel(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.lock()
	defer s.unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	if job.Status != domain.JobStatusPending && job.Status != domain.JobStatusProcessing {
		return false, nil
	}

	completed := now
	job.Status = domain.JobStatusCancelled
	job.WorkerID = nil
	job.CompletedAt = &completed
	job.UpdatedAt = now
	return true, nil
}

// Expire transitions a pending job past its deadline to failed/EXPIRED.
func (s *Store) Expire(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.lock()
	defer s.unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != domain.JobStatusPending || !job.HasExpired(now) {
		return false, nil
	}

	completed := now
	job.Status = domain.JobStatusFailed
	job.ErrorCode = domain.ErrorCodeExpired
	job.ErrorMessage = "job expired before it was picked up"
	job.CompletedAt = &completed
	job.UpdatedAt = now
	return true, nil
}

// RequeueForRetry transitions an eligible failed job back to pending.
func (s *Store) RequeueForRetry(ctx context.Context, id uuid.UUID, scheduledFor, now time.Time) (bool, error) {
	s.lock()
	defer s.unlock()

	job, ok := s.jobs[id]
	if !ok || !job.WillRetry() {
		return false, nil
	}

	job.Status = domain.JobStatusPending
	job.RetryCount++
	job.ErrorCode = ""
	job.ErrorMessage = ""
	job.WorkerID = nil
	job.StartedAt = nil
	job.CompletedAt = nil
	job.ProgressPercent = 0
	job.ProgressMessage = ""
	job.ScheduledFor = scheduledFor
	job.UpdatedAt = now
	return true, nil
}

// RequeueStalled transitions a processing job with retries remaining back to
// pending, consuming a retry.
func (s *Store) RequeueStalled(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.lock()
	defer s.unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing || job.RetryCount >= job.MaxRetries {
		return false, nil
	}

	job.Status = domain.JobStatusPending
	job.RetryCount++
	job.WorkerID = nil
	job.StartedAt = nil
	job.ProgressPercent = 0
	job.ProgressMessage = ""
	job.ScheduledFor = now
	job.UpdatedAt = now
	return true, nil
}

// PurgeTerminalBefore deletes terminal jobs completed at or before the
// cutoff, together with their log entries.
func (s *Store) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.lock()
	defer s.unlock()

	var purged int64
	for id, job := range s.jobs {
		if !job.IsTerminal() {
			continue
		}
		if job.CompletedAt == nil || job.CompletedAt.After(cutoff) {
			continue
		}
		delete(s.jobs, id)
		delete(s.logs, id)
		purged++
	}
	if purged > 0 {
		s.logger.Debug("purged terminal jobs", slog.Int64("count", purged))
	}
	return purged, nil
}

// Append saves a new log entry for an existing job.
func (s *Store) Append(ctx context.Context, entry *domain.JobLogEntry) error {
	if err := entry.Validate(); err != nil {
		return store.NewStoreError("job_log", "append", "invalid log entry", err)
	}

	s.lock()
	defer s.unlock()

	if _, ok := s.jobs[entry.JobID]; !ok {
		return store.ErrJobNotFound
	}
	s.logs[entry.JobID] = append(s.logs[entry.JobID], cloneLogEntry(entry))
	return nil
}

// ListByJob retrieves a page of a job's log entries in creation order.
func (s *Store) ListByJob(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]*domain.JobLogEntry, int, error) {
	s.lock()
	defer s.unlock()

	entries := s.logs[jobID]
	total := len(entries)

	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	if limit > store.MaxListLimit {
		limit = store.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*domain.JobLogEntry{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := make([]*domain.JobLogEntry, 0, end-offset)
	for _, entry := range entries[offset:end] {
		page = append(page, cloneLogEntry(entry))
	}
	return page, total, nil
}

// countActiveLocked counts pending and processing jobs for the owner.
// Callers must hold the lock.
func (s *Store) countActiveLocked(ownerID uuid.UUID) int {
	count := 0
	for _, job := range s.jobs {
		if job.OwnerID != ownerID {
			continue
		}
		if job.Status == domain.JobStatusPending || job.Status == domain.JobStatusProcessing {
			count++
		}
	}
	return count
}

// clonePage deep-copies up to limit jobs from the ordered slice.
func clonePage(jobs []*domain.Job, limit int) []*domain.Job {
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	page := make([]*domain.Job, 0, len(jobs))
	for _, job := range jobs {
		page = append(page, cloneJob(job))
	}
	return page
}

// cloneJob deep-copies a job so stored state never aliases caller state.
func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	if j.Params != nil {
		c.Params = append(json.RawMessage(nil), j.Params...)
	}
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.WorkerID != nil {
		w := *j.WorkerID
		c.WorkerID = &w
	}
	if j.StartedAt != nil {
		ts := *j.StartedAt
		c.StartedAt = &ts
	}
	if j.CompletedAt != nil {
		ts := *j.CompletedAt
		c.CompletedAt = &ts
	}
	if j.ExpiresAt != nil {
		ts := *j.ExpiresAt
		c.ExpiresAt = &ts
	}
	return &c
}

// cloneLogEntry deep-copies a log entry.
func cloneLogEntry(e *domain.JobLogEntry) *domain.JobLogEntry {
	c := *e
	if e.Metadata != nil {
		c.Metadata = append(json.RawMessage(nil), e.Metadata...)
	}
	return &c
}

// paramsEqual compares two JSON documents structurally, ignoring key order
// and whitespace.
func paramsEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

// lessID gives a stable tiebreak order on UUIDs.
func lessID(a, b uuid.UUID) bool {
	return a.String() < b.String()
}
