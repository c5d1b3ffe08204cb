package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/assistant-gateway/internal/jobs"
	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/types"
)

const maxRetryCap = 5

// Pool drains the job store with a fixed number of polling loops. Each loop
// runs a watchdog sweep, claims at most one job, executes its processor, and
// settles the terminal state. The claim lock is always released at the end.
type Pool struct {
	store    *jobs.Store
	registry *Registry
	log      *logger.Logger
	onStatus StatusFunc

	concurrency       int
	pollInterval      time.Duration
	runningTimeout    time.Duration
	cancellingTimeout time.Duration

	group *errgroup.Group
}

type PoolConfig struct {
	Concurrency       int
	PollInterval      time.Duration
	RunningTimeout    time.Duration
	CancellingTimeout time.Duration
	OnStatus          StatusFunc
}

func NewPool(store *jobs.Store, registry *Registry, baseLog *logger.Logger, cfg PoolConfig) *Pool {
	p := &Pool{
		store:             store,
		registry:          registry,
		log:               baseLog.With("component", "JobWorker"),
		onStatus:          cfg.OnStatus,
		concurrency:       cfg.Concurrency,
		pollInterval:      cfg.PollInterval,
		runningTimeout:    cfg.RunningTimeout,
		cancellingTimeout: cfg.CancellingTimeout,
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if p.pollInterval <= 0 {
		p.pollInterval = 250 * time.Millisecond
	}
	if p.runningTimeout <= 0 {
		p.runningTimeout = jobs.DefaultRunningTimeout
	}
	if p.cancellingTimeout <= 0 {
		p.cancellingTimeout = jobs.DefaultCancellingTimeout
	}
	return p
}

// Start launches the worker loops. They exit when ctx is cancelled, after
// the job in flight (if any) has settled and the final tick expires.
func (p *Pool) Start(ctx context.Context) {
	p.log.Info("Starting job worker pool", "concurrency", p.concurrency, "poll_interval", p.pollInterval)
	p.group = &errgroup.Group{}
	for i := 0; i < p.concurrency; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		p.group.Go(func() error {
			p.runLoop(ctx, workerID)
			return nil
		})
	}
}

// Wait blocks until every worker loop has exited. Call after cancelling the
// Start context to drain jobs in flight.
func (p *Pool) Wait() {
	if p.group != nil {
		_ = p.group.Wait()
	}
}

func (p *Pool) runLoop(ctx context.Context, workerID string) {
	log := p.log.With("worker_id", workerID)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Worker loop stopped")
			return
		case <-ticker.C:
			p.sweepStuck(ctx, log)
			job, err := p.store.ClaimNextQueued(ctx, workerID)
			if err != nil {
				log.Warn("ClaimNextQueued failed", "error", err)
				continue
			}
			if job == nil {
				continue
			}
			p.runJob(ctx, log, job)
		}
	}
}

func (p *Pool) sweepStuck(ctx context.Context, log *logger.Logger) {
	recovered, err := p.store.RecoverStuck(ctx, p.runningTimeout, p.cancellingTimeout)
	if err != nil {
		log.Warn("Watchdog sweep failed", "error", err)
		return
	}
	for _, job := range recovered {
		p.emit(StatusEvent{
			JobID:     job.ID,
			SessionID: job.SessionID(),
			Status:    StatusFailed,
			Summary:   job.Error.Message,
			ErrorCode: job.Error.Code,
		})
	}
}

func (p *Pool) runJob(ctx context.Context, log *logger.Logger, job *types.Job) {
	defer p.store.ReleaseClaim(job.ID)

	p.emit(StatusEvent{JobID: job.ID, SessionID: job.SessionID(), Status: StatusRunning})

	jc := &Context{Ctx: ctx, Job: job, store: p.store, log: log, onStatus: p.onStatus}
	result, runErr := p.invoke(log, jc)
	if runErr != nil {
		p.settleFailure(ctx, log, job, runErr)
		return
	}

	// Re-read: a cancel may have arrived while the processor ran.
	current, err := p.store.Get(ctx, job.ID)
	if err != nil {
		log.Warn("Failed to re-read job after run", "job_id", job.ID, "error", err)
		return
	}
	if current.Status == types.JobStatusCancelling {
		if _, err := p.store.MarkCancelledAfterRun(ctx, job.ID, result); err != nil {
			log.Warn("MarkCancelledAfterRun failed", "job_id", job.ID, "error", err)
			return
		}
		p.emit(StatusEvent{JobID: job.ID, SessionID: job.SessionID(), Status: StatusCancelled})
		return
	}
	if _, err := p.store.Complete(ctx, job.ID, result); err != nil {
		log.Warn("Complete failed", "job_id", job.ID, "error", err)
		return
	}
	evt := StatusEvent{JobID: job.ID, SessionID: job.SessionID(), Status: StatusSucceeded}
	if s, ok := result["summary"].(string); ok {
		evt.Summary = s
	}
	if s, ok := result["responseText"].(string); ok {
		evt.ResponseText = s
	}
	p.emit(evt)
}

// invoke runs the processor with panic containment: a panicking handler must
// not take the worker loop down with it.
func (p *Pool) invoke(log *logger.Logger, jc *Context) (result map[string]any, runErr error) {
	proc, ok := p.registry.Get(jc.Job.Type)
	if !ok {
		return nil, fmt.Errorf("no processor registered for job type %q", jc.Job.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("Processor panic", "job_id", jc.Job.ID, "job_type", jc.Job.Type, "panic", r)
			runErr = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return proc.Run(jc)
}

func (p *Pool) settleFailure(ctx context.Context, log *logger.Logger, job *types.Job, runErr error) {
	retryable := RetryableError(runErr)
	code := "processor_failure"
	if retryable {
		code = "processor_retryable_failure"
	}
	if _, err := p.store.Fail(ctx, job.ID, types.JobError{Code: code, Message: runErr.Error(), Retryable: retryable}); err != nil {
		log.Warn("Fail failed", "job_id", job.ID, "error", err)
		return
	}

	attempt := job.PayloadInt("retryAttempt")
	maxRetries := job.PayloadInt("maxRetries")
	if maxRetries > maxRetryCap {
		maxRetries = maxRetryCap
	}
	if retryable && attempt < maxRetries {
		child, err := p.store.Retry(ctx, job.ID)
		if err != nil {
			log.Warn("Retry failed", "job_id", job.ID, "error", err)
			p.emit(StatusEvent{JobID: job.ID, SessionID: job.SessionID(), Status: StatusFailed, Summary: runErr.Error(), ErrorCode: code})
			return
		}
		p.emit(StatusEvent{
			JobID:      job.ID,
			SessionID:  job.SessionID(),
			Status:     StatusProgress,
			Step:       "retrying",
			Summary:    fmt.Sprintf("retrying as job %s (attempt %d)", child.ID, attempt+1),
			RetryJobID: child.ID.String(),
		})
		return
	}
	p.emit(StatusEvent{JobID: job.ID, SessionID: job.SessionID(), Status: StatusFailed, Summary: runErr.Error(), ErrorCode: code})
}

func (p *Pool) emit(evt StatusEvent) {
	if p.onStatus != nil {
		p.onStatus(evt)
	}
}

var retryableFragments = []string{
	"timeout",
	"timed out",
	"fetch failed",
	"network",
	"temporarily unavailable",
	"rate limit",
	"429",
}

// RetryableError classifies transient processor failures by message.
func RetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
