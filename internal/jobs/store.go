package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/state"
	"github.com/yungbote/assistant-gateway/internal/types"
)

var (
	ErrNotFound         = errors.New("job not found")
	ErrRetryUnavailable = errors.New("job can only be retried from failed or cancelled")
)

const (
	DefaultRunningTimeout    = 10 * time.Minute
	DefaultCancellingTimeout = 90 * time.Second

	MinRunningTimeout    = 30 * time.Second
	MinCancellingTimeout = 10 * time.Second
	MaxWatchdogTimeout   = 24 * time.Hour
)

// Store owns the jobs/ and receipts/ directories and the job state machine.
// Per-job claim locks serialize worker transitions across loops; the store
// mutex serializes read-modify-write cycles within this process.
type Store struct {
	dir *state.Dir
	log *logger.Logger
	mu  sync.Mutex
}

func NewStore(dir *state.Dir, baseLog *logger.Logger) *Store {
	return &Store{dir: dir, log: baseLog.With("component", "JobStore")}
}

func (s *Store) jobPath(id uuid.UUID) string {
	return s.dir.Path("jobs", id.String()+".json")
}

func (s *Store) readJob(id uuid.UUID) (*types.Job, error) {
	var job types.Job
	if err := s.dir.ReadJSON(s.jobPath(id), &job); err != nil {
		if errors.Is(err, state.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *Store) writeJob(job *types.Job) error {
	return s.dir.WriteJSONAtomic(s.jobPath(job.ID), job)
}

// touch advances UpdatedAt, keeping it monotonically non-decreasing.
func touch(job *types.Job, now time.Time) {
	if now.After(job.UpdatedAt) {
		job.UpdatedAt = now
	}
}

func (s *Store) Create(ctx context.Context, jobType string, payload map[string]any, priority int, requestedSkill string) (*types.Job, error) {
	if jobType == "" {
		return nil, fmt.Errorf("missing job type")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	now := time.Now().UTC()
	job := &types.Job{
		ID:             uuid.New(),
		Type:           jobType,
		Payload:        payload,
		Priority:       priority,
		Status:         types.JobStatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
		RequestedSkill: requestedSkill,
	}
	if err := s.writeJob(job); err != nil {
		return nil, err
	}
	s.appendEvent("job.queued", job)
	s.log.Debug("Job queued", "job_id", job.ID, "job_type", jobType, "priority", priority)
	return job, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	return s.readJob(id)
}

func (s *Store) List(ctx context.Context) ([]*types.Job, error) {
	ids, err := s.dir.ListJSONIDs("jobs")
	if err != nil {
		return nil, err
	}
	out := make([]*types.Job, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		job, err := s.readJob(id)
		if err != nil {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

// ClaimNextQueued picks the most urgent queued job and transitions it to
// running under the job's claim lock. Candidates are ordered by priority
// ascending, then createdAt ascending. Returns nil when nothing is claimable.
func (s *Store) ClaimNextQueued(ctx context.Context, workerID string) (*types.Job, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var candidates []*types.Job
	for _, job := range all {
		if job.Status == types.JobStatusQueued {
			candidates = append(candidates, job)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	for _, candidate := range candidates {
		ok, err := s.dir.TryLock(candidate.ID.String())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		// Re-read and transition under the store mutex as well as the
		// claim lock: the lock file orders claims across worker loops,
		// but Cancel serializes only on the mutex, so the mutex is what
		// keeps a cancel from landing between this re-read and write.
		s.mu.Lock()
		job, err := s.readJob(candidate.ID)
		if err != nil || job.Status != types.JobStatusQueued {
			s.mu.Unlock()
			s.dir.Unlock(candidate.ID.String())
			continue
		}
		now := time.Now().UTC()
		job.Status = types.JobStatusRunning
		job.StartedAt = &now
		job.WorkerID = workerID
		touch(job, now)
		if err := s.writeJob(job); err != nil {
			s.mu.Unlock()
			s.dir.Unlock(candidate.ID.String())
			return nil, err
		}
		s.appendEvent("job.claimed", job)
		s.mu.Unlock()
		return job, nil
	}
	return nil, nil
}

// ReleaseClaim drops the claim lock for a job. Safe to call when not held.
func (s *Store) ReleaseClaim(id uuid.UUID) {
	s.dir.Unlock(id.String())
}

func (s *Store) UpdateProgress(ctx context.Context, id uuid.UUID, p types.JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.readJob(id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is terminal", id)
	}
	now := time.Now().UTC()
	if p.At.IsZero() {
		p.At = now
	}
	if p.Percent != nil {
		v := *p.Percent
		if v < 0 {
			v = 0
		}
		if v > 100 {
			v = 100
		}
		p.Percent = &v
	}
	// An empty phase is dropped, not inherited: each snapshot states only
	// what the processor reported.
	job.Progress = &p
	touch(job, now)
	if err := s.writeJob(job); err != nil {
		return err
	}
	s.appendEvent("job.progress", job)
	return nil
}

func (s *Store) Complete(ctx context.Context, id uuid.UUID, result map[string]any) (*types.Job, error) {
	return s.finish(id, types.JobStatusSucceeded, result, nil, "job.succeeded")
}

func (s *Store) Fail(ctx context.Context, id uuid.UUID, jobErr types.JobError) (*types.Job, error) {
	return s.finish(id, types.JobStatusFailed, nil, &jobErr, "job.failed")
}

func (s *Store) finish(id uuid.UUID, status types.JobStatus, result map[string]any, jobErr *types.JobError, event string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.readJob(id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}
	now := time.Now().UTC()
	job.Status = status
	job.EndedAt = &now
	if result != nil {
		job.Result = result
	}
	if jobErr != nil {
		job.Error = jobErr
	}
	touch(job, now)
	if err := s.writeJob(job); err != nil {
		return nil, err
	}
	s.appendEvent(event, job)
	if err := s.writeReceipt(job); err != nil {
		s.log.Warn("Failed to write receipt", "job_id", job.ID, "error", err)
	}
	return job, nil
}

// Cancel moves a queued job straight to cancelled and a running job to
// cancelling; the worker completes the cancellation cooperatively once its
// processor returns. Terminal jobs are left untouched.
func (s *Store) Cancel(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.readJob(id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	switch job.Status {
	case types.JobStatusQueued:
		job.Status = types.JobStatusCancelled
		job.EndedAt = &now
		touch(job, now)
		if err := s.writeJob(job); err != nil {
			return nil, err
		}
		s.appendEvent("job.cancelled", job)
		if err := s.writeReceipt(job); err != nil {
			s.log.Warn("Failed to write receipt", "job_id", job.ID, "error", err)
		}
	case types.JobStatusRunning:
		job.Status = types.JobStatusCancelling
		touch(job, now)
		if err := s.writeJob(job); err != nil {
			return nil, err
		}
		s.appendEvent("job.cancelling", job)
	}
	return job, nil
}

// MarkCancelledAfterRun finalizes a cooperative cancellation once the worker
// has returned. The processor's result, if any, is preserved.
func (s *Store) MarkCancelledAfterRun(ctx context.Context, id uuid.UUID, result map[string]any) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.readJob(id)
	if err != nil {
		return nil, err
	}
	if job.Status != types.JobStatusCancelling {
		return job, nil
	}
	now := time.Now().UTC()
	job.Status = types.JobStatusCancelled
	job.EndedAt = &now
	if result != nil {
		job.Result = result
	}
	touch(job, now)
	if err := s.writeJob(job); err != nil {
		return nil, err
	}
	s.appendEvent("job.cancelled", job)
	if err := s.writeReceipt(job); err != nil {
		s.log.Warn("Failed to write receipt", "job_id", job.ID, "error", err)
	}
	return job, nil
}

// Retry creates a queued child of a failed or cancelled job, carrying the
// payload forward with retryAttempt incremented and retryRootJobId pinned to
// the first job of the chain.
func (s *Store) Retry(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	parent, err := s.readJob(id)
	if err != nil {
		return nil, err
	}
	if parent.Status != types.JobStatusFailed && parent.Status != types.JobStatusCancelled {
		return nil, ErrRetryUnavailable
	}
	payload := make(map[string]any, len(parent.Payload)+2)
	for k, v := range parent.Payload {
		payload[k] = v
	}
	payload["retryAttempt"] = parent.PayloadInt("retryAttempt") + 1
	if root := parent.PayloadString("retryRootJobId"); root != "" {
		payload["retryRootJobId"] = root
	} else {
		payload["retryRootJobId"] = parent.ID.String()
	}
	child, err := s.Create(ctx, parent.Type, payload, parent.Priority, parent.RequestedSkill)
	if err != nil {
		return nil, err
	}
	parentID := parent.ID
	child.RetryOf = &parentID
	if err := s.writeJob(child); err != nil {
		return nil, err
	}
	s.log.Info("Job retried", "job_id", parent.ID, "retry_job_id", child.ID)
	return child, nil
}

// RecoverStuck fails running jobs whose UpdatedAt aged past runningTimeout
// and cancelling jobs past cancellingTimeout, releasing their claim locks.
// Timeouts are clamped to sane bounds regardless of configuration.
func (s *Store) RecoverStuck(ctx context.Context, runningTimeout, cancellingTimeout time.Duration) ([]*types.Job, error) {
	runningTimeout = clampTimeout(runningTimeout, MinRunningTimeout)
	cancellingTimeout = clampTimeout(cancellingTimeout, MinCancellingTimeout)

	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var recovered []*types.Job
	for _, job := range all {
		var limit time.Duration
		switch job.Status {
		case types.JobStatusRunning:
			limit = runningTimeout
		case types.JobStatusCancelling:
			limit = cancellingTimeout
		default:
			continue
		}
		if now.Sub(job.UpdatedAt) <= limit {
			continue
		}
		failed, err := s.Fail(ctx, job.ID, types.JobError{
			Code:      "watchdog_timeout",
			Message:   fmt.Sprintf("no update for more than %s in status %s", limit, job.Status),
			Retryable: false,
		})
		if err != nil {
			s.log.Warn("Watchdog recovery failed", "job_id", job.ID, "error", err)
			continue
		}
		s.ReleaseClaim(job.ID)
		s.log.Warn("Watchdog recovered stuck job", "job_id", job.ID, "stuck_status", job.Status)
		recovered = append(recovered, failed)
	}
	return recovered, nil
}

func clampTimeout(d, min time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > MaxWatchdogTimeout {
		return MaxWatchdogTimeout
	}
	return d
}

func (s *Store) StatusCounts(ctx context.Context) (map[string]int, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{
		string(types.JobStatusQueued):     0,
		string(types.JobStatusRunning):    0,
		string(types.JobStatusCancelling): 0,
		string(types.JobStatusSucceeded):  0,
		string(types.JobStatusFailed):     0,
		string(types.JobStatusCancelled):  0,
	}
	for _, job := range all {
		counts[string(job.Status)]++
	}
	return counts, nil
}

type jobEvent struct {
	At     time.Time `json:"at"`
	Type   string    `json:"type"`
	JobID  string    `json:"jobId"`
	Status string    `json:"status"`
}

func (s *Store) appendEvent(eventType string, job *types.Job) {
	evt := jobEvent{
		At:     time.Now().UTC(),
		Type:   eventType,
		JobID:  job.ID.String(),
		Status: string(job.Status),
	}
	if err := s.dir.AppendJSONL(s.dir.Path("events.jsonl"), evt); err != nil {
		s.log.Warn("Failed to append job event", "job_id", job.ID, "error", err)
	}
}
