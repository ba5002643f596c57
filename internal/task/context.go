package task

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/plumehq/plume-jobs/internal/domain"
)

// Reporter publishes progress and log entries for a running job. Satisfied
// by lifecycle.Manager.
type Reporter interface {
	ReportProgress(ctx context.Context, id uuid.UUID, percent int, message string) (*domain.Job, bool, error)
	AppendLog(ctx context.Context, jobID uuid.UUID, level domain.LogLevel, message string, metadata json.RawMessage) error
}

// Context is the execution environment of one job attempt. It carries the
// attempt's context.Context (handler timeout and worker shutdown), the job
// as it looked when claimed, and the reporting side channel back into the
// engine.
//
// Cancellation is cooperative: when the owner cancels the job, the worker's
// poll marks the Context cancelled and then cancels the attempt context.
// Handlers doing work in steps can check Cancelled between steps; handlers
// blocked on I/O observe the context cancellation.
type Context struct {
	ctx       context.Context
	job       *domain.Job
	reporter  Reporter
	cancelled atomic.Bool
}

// NewContext builds the execution environment for one attempt of job.
func NewContext(ctx context.Context, job *domain.Job, reporter Reporter) *Context {
	if job == nil {
		panic("task: NewContext requires a job")
	}
	if reporter == nil {
		panic("task: NewContext requires a reporter")
	}
	return &Context{ctx: ctx, job: job, reporter: reporter}
}

// Context returns the attempt's context. It is cancelled on handler
// timeout, worker shutdown, and owner cancellation.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Job returns the job as it looked when this attempt claimed it.
func (c *Context) Job() *domain.Job {
	return c.job
}

// JobID returns the job's identifier.
func (c *Context) JobID() uuid.UUID {
	return c.job.ID
}

// Params returns the job's opaque parameter payload.
func (c *Context) Params() json.RawMessage {
	return c.job.Params
}

// ReportProgress records how far this attempt has gotten. Percent must be
// within [0,100]; progress never regresses, so a stale report is absorbed
// rather than rejected. A report the engine refuses outright (the job is no
// longer processing) is dropped silently; the cancellation poll surfaces
// the reason shortly after.
func (c *Context) ReportProgress(percent int, message string) error {
	_, _, err := c.reporter.ReportProgress(c.ctx, c.job.ID, percent, message)
	return err
}

// Log appends a diagnostic entry to the job's log.
func (c *Context) Log(level domain.LogLevel, message string, metadata json.RawMessage) error {
	return c.reporter.AppendLog(c.ctx, c.job.ID, level, message, metadata)
}

// Cancelled reports whether the owner cancelled this job. Handlers should
// check it between steps and return promptly when it turns true; whatever
// they return, the engine keeps the job in its cancelled state.
func (c *Context) Cancelled() bool {
	return c.cancelled.Load()
}

// MarkCancelled records an owner cancellation. The worker's cancellation
// poll calls it just before cancelling the attempt context.
func (c *Context) MarkCancelled() {
	c.cancelled.Store(true)
}
