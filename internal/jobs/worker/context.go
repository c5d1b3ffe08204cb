package worker

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/assistant-gateway/internal/jobs"
	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/types"
)

// Processor executes one claimed job. The returned map becomes the job
// result; summary and responseText entries, when strings, surface in the
// terminal status event.
type Processor interface {
	Run(jc *Context) (map[string]any, error)
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(jc *Context) (map[string]any, error)

func (f ProcessorFunc) Run(jc *Context) (map[string]any, error) { return f(jc) }

// Context is what a processor sees while running a job.
type Context struct {
	Ctx context.Context
	Job *types.Job

	store    *jobs.Store
	log      *logger.Logger
	onStatus StatusFunc
}

// NewContext builds a processor context outside the pool, for driving a
// processor directly. onStatus may be nil.
func NewContext(ctx context.Context, job *types.Job, store *jobs.Store, log *logger.Logger, onStatus StatusFunc) *Context {
	return &Context{Ctx: ctx, Job: job, store: store, log: log, onStatus: onStatus}
}

// ReportProgress persists the progress snapshot and emits a progress status
// event. Errors are logged, not surfaced; losing one progress tick is fine.
func (c *Context) ReportProgress(p types.JobProgress) {
	if err := c.store.UpdateProgress(c.Ctx, c.Job.ID, p); err != nil {
		c.log.Warn("Failed to persist progress", "job_id", c.Job.ID, "error", err)
		return
	}
	c.emit(StatusEvent{
		JobID:     c.Job.ID,
		SessionID: c.Job.SessionID(),
		Status:    StatusProgress,
		Summary:   p.Message,
		Step:      p.Step,
		Percent:   p.Percent,
		Phase:     p.Phase,
		Details:   p.Details,
	})
}

func (c *Context) emit(evt StatusEvent) {
	if c.onStatus != nil {
		c.onStatus(evt)
	}
}

// StatusFunc receives job status events as the worker drives the job.
type StatusFunc func(evt StatusEvent)

const (
	StatusRunning   = "running"
	StatusProgress  = "progress"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

type StatusEvent struct {
	JobID        uuid.UUID
	SessionID    string
	Status       string
	Summary      string
	ResponseText string
	Step         string
	Percent      *float64
	Phase        string
	Details      map[string]any
	ErrorCode    string
	RetryJobID   string
}
