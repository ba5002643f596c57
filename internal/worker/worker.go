// Package worker runs the in-process execution runtime. A pool of workers
// polls the dispatcher for claimable jobs, executes the registered handler
// under a per-attempt timeout, and drives the outcome back through the
// lifecycle manager. Idle workers back off exponentially between polls; a
// background poll per attempt watches for owner cancellation.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plumehq/plume-jobs/internal/backoff"
	"github.com/plumehq/plume-jobs/internal/config"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/store"
	"github.com/plumehq/plume-jobs/internal/task"
	"github.com/plumehq/plume-jobs/internal/telemetry"
)

// Error codes the runtime records when it fails an attempt itself instead
// of relaying a handler error.
const (
	// ErrorCodeTimeout marks an attempt that exceeded the handler timeout.
	ErrorCodeTimeout = "HANDLER_TIMEOUT"

	// ErrorCodePanic marks an attempt whose handler panicked.
	ErrorCodePanic = "HANDLER_PANIC"

	// ErrorCodeShutdown marks an attempt interrupted by worker shutdown.
	// The retry sweep requeues these well before the stuck sweep would.
	ErrorCodeShutdown = "WORKER_SHUTDOWN"

	// ErrorCodeNoHandler marks a claimed job whose type has no handler in
	// this deployment. Creation rejects unknown types, so this only shows
	// up when deployments with different registries share a queue.
	ErrorCodeNoHandler = "HANDLER_NOT_REGISTERED"
)

// Defaults applied when the worker configuration leaves a knob unset.
const (
	DefaultCount              = 4
	DefaultPollInterval       = 2 * time.Second
	DefaultHandlerTimeout     = 10 * time.Minute
	DefaultCancelPollInterval = 5 * time.Second

	// idleCapFactor bounds the idle backoff at this multiple of the poll
	// interval.
	idleCapFactor = 8
)

// Source hands out claimed jobs. Satisfied by dispatch.Dispatcher.
type Source interface {
	NextJob(ctx context.Context, workerID string) (*domain.Job, error)
}

// Manager is the slice of the lifecycle manager the runtime drives
// outcomes through, plus the reporting channel handlers use.
type Manager interface {
	task.Reporter
	Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) (*domain.Job, bool, error)
	Fail(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) (*domain.Job, bool, error)
}

// JobReader reads current job state for the cancellation poll.
type JobReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
}

// Pool is a fixed-size set of polling workers sharing one registry.
type Pool struct {
	source   Source
	manager  Manager
	jobs     JobReader
	registry *task.Registry
	cfg      config.WorkerConfig
	logger   *slog.Logger
	baseID   string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewPool builds the worker pool. Zero config values fall back to the
// package defaults.
func NewPool(
	source Source,
	manager Manager,
	jobs JobReader,
	registry *task.Registry,
	cfg config.WorkerConfig,
	logger *slog.Logger,
) *Pool {
	if source == nil {
		panic("worker: NewPool requires a job source")
	}
	if manager == nil {
		panic("worker: NewPool requires a lifecycle manager")
	}
	if jobs == nil {
		panic("worker: NewPool requires a job reader")
	}
	if registry == nil {
		panic("worker: NewPool requires a handler registry")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Count <= 0 {
		cfg.Count = DefaultCount
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}
	if cfg.CancelPollInterval <= 0 {
		cfg.CancelPollInterval = DefaultCancelPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		source:   source,
		manager:  manager,
		jobs:     jobs,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "worker_pool")),
		baseID:   workerBaseID(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the workers. Calling Start twice is an error.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("worker pool already started")
	}
	p.started = true

	p.logger.Info("starting worker pool",
		slog.Int("worker_count", p.cfg.Count),
		slog.String("poll_interval", p.cfg.PollInterval.String()),
		slog.String("handler_timeout", p.cfg.HandlerTimeout.String()),
		slog.Any("job_types", p.registry.Types()))

	for i := 0; i < p.cfg.Count; i++ {
		workerID := fmt.Sprintf("%s-%d", p.baseID, i+1)
		p.wg.Add(1)
		go p.run(workerID)
	}
	return nil
}

// Stop signals every worker to finish its current attempt and waits for
// them to exit.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// run is one worker's poll loop. Misses stretch the wait between polls up
// to a cap; any claimed job resets it.
func (p *Pool) run(workerID string) {
	defer p.wg.Done()
	log := p.logger.With(slog.String("worker_id", workerID))
	idle := backoff.NewExponential(p.cfg.PollInterval, p.cfg.PollInterval*idleCapFactor)
	misses := 0

	for {
		if p.ctx.Err() != nil {
			return
		}

		job, err := p.source.NextJob(p.ctx, workerID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("failed to poll for work", slog.String("error", err.Error()))
		}
		if job == nil {
			misses++
			if !p.sleep(idle.Delay(misses - 1)) {
				return
			}
			continue
		}

		misses = 0
		p.execute(log, job)
	}
}

// sleep waits d or until shutdown, reporting false on shutdown.
func (p *Pool) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-p.ctx.Done():
		return false
	}
}

// execute runs one attempt end to end: handler lookup, timeout scope,
// cancellation watch, outcome transition.
func (p *Pool) execute(log *slog.Logger, job *domain.Job) {
	log = log.With(slog.String("job_id", job.ID.String()), slog.String("job_type", job.JobType))

	handler, ok := p.registry.Get(job.JobType)
	if !ok {
		log.Error("no handler registered for claimed job type")
		p.fail(log, job, ErrorCodeNoHandler, fmt.Sprintf("no handler registered for job type %q", job.JobType))
		return
	}

	attemptCtx, cancelAttempt := context.WithTimeout(p.ctx, p.cfg.HandlerTimeout)
	defer cancelAttempt()
	tctx := task.NewContext(attemptCtx, job, p.manager)

	stopWatch := make(chan struct{})
	var watchWg sync.WaitGroup
	watchWg.Add(1)
	go func() {
		defer watchWg.Done()
		p.watchCancellation(attemptCtx, cancelAttempt, tctx, stopWatch)
	}()

	start := time.Now()
	result, err := p.runHandler(log, tctx, handler)
	close(stopWatch)
	watchWg.Wait()
	telemetry.HandlerDuration.WithLabelValues(job.JobType).Observe(time.Since(start).Seconds())

	// Outcome writes use a fresh context so a timed-out or shutting-down
	// attempt can still record what happened to it.
	switch {
	case err == nil:
		_, applied, cerr := p.manager.Complete(context.Background(), job.ID, result)
		if cerr != nil {
			log.Error("failed to record job completion", slog.String("error", cerr.Error()))
			return
		}
		if !applied {
			log.Debug("completion discarded; job had already moved on")
			return
		}
		log.Info("job completed", slog.String("duration", time.Since(start).String()))
	case tctx.Cancelled():
		// The owner cancelled; the job already sits in its terminal state.
		log.Info("attempt abandoned after cancellation")
	case errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() == context.DeadlineExceeded:
		p.fail(log, job, ErrorCodeTimeout, fmt.Sprintf("handler exceeded its %s timeout", p.cfg.HandlerTimeout))
	case p.ctx.Err() != nil:
		p.fail(log, job, ErrorCodeShutdown, "worker shut down before the attempt finished")
	default:
		code, message := task.Classify(err)
		p.fail(log, job, code, message)
	}
}

// runHandler invokes the handler with panic containment. A panic fails the
// attempt like any other handler error.
func (p *Pool) runHandler(log *slog.Logger, tctx *task.Context, handler task.Handler) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			result = nil
			err = task.NewError(ErrorCodePanic, fmt.Sprintf("handler panicked: %v", r))
		}
	}()
	return handler.Execute(tctx)
}

// fail records a failed attempt. The retry sweep decides later whether it
// runs again.
func (p *Pool) fail(log *slog.Logger, job *domain.Job, code, message string) {
	failed, applied, err := p.manager.Fail(context.Background(), job.ID, code, message)
	if err != nil {
		log.Error("failed to record job failure",
			slog.String("error_code", code),
			slog.String("error", err.Error()))
		return
	}
	if !applied {
		log.Debug("failure discarded; job had already moved on", slog.String("error_code", code))
		return
	}
	log.Warn("job failed",
		slog.String("error_code", code),
		slog.Bool("will_retry", failed != nil && failed.WillRetry()))
}

// watchCancellation polls the job row and tears the attempt down when the
// owner cancels. It also ends the attempt if the job vanishes entirely.
func (p *Pool) watchCancellation(ctx context.Context, cancelAttempt context.CancelFunc, tctx *task.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.CancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := p.jobs.GetByID(ctx, tctx.JobID())
			if err != nil {
				if errors.Is(err, store.ErrJobNotFound) {
					tctx.MarkCancelled()
					cancelAttempt()
					return
				}
				continue
			}
			if current.Status == domain.JobStatusCancelled {
				tctx.MarkCancelled()
				cancelAttempt()
				return
			}
		}
	}
}

// workerBaseID prefixes worker identifiers with the host they run on so
// claims are attributable across machines.
func workerBaseID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	return host
}
