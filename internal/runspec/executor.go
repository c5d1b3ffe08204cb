package runspec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yungbote/assistant-gateway/internal/jobs/worker"
	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/notify"
	"github.com/yungbote/assistant-gateway/internal/state"
	"github.com/yungbote/assistant-gateway/internal/types"
)

// ErrApprovalMissing fails a run that tries to advance an unapproved gated
// step. Step states are left untouched so the run can be re-executed after
// the approval lands.
var ErrApprovalMissing = fmt.Errorf("run_spec_approval_missing")

// Executor drives a stored run step by step. Artifacts produced by file
// steps land under <stateDir>/artifacts/<runId>/ and are handed to the
// notification queue for delivery.
type Executor struct {
	store    *Store
	outbound *notify.Store
	dir      *state.Dir
	log      *logger.Logger
}

func NewExecutor(store *Store, outbound *notify.Store, dir *state.Dir, baseLog *logger.Logger) *Executor {
	return &Executor{
		store:    store,
		outbound: outbound,
		dir:      dir,
		log:      baseLog.With("component", "RunSpecExecutor"),
	}
}

// Processor adapts the executor to the worker pool for jobs of type
// run_spec, whose payload carries the runId.
func (e *Executor) Processor() worker.ProcessorFunc {
	return func(jc *worker.Context) (map[string]any, error) {
		runID := jc.Job.PayloadString("runId")
		if runID == "" {
			return nil, fmt.Errorf("run_spec job %s has no runId", jc.Job.ID)
		}
		return e.Execute(jc.Ctx, runID)
	}
}

// Execute runs every remaining step in order. Gated steps that are still
// approval_required fail the whole run before any of their work happens.
func (e *Executor) Execute(ctx context.Context, runID string) (map[string]any, error) {
	rec, err := e.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rec.Status == types.RunStatusCompleted || rec.Status == types.RunStatusCancelled {
		return map[string]any{"runId": runID, "status": string(rec.Status)}, nil
	}
	if _, err := e.store.SetStatus(ctx, runID, types.RunStatusRunning, EventInput{Message: "execution started"}); err != nil {
		return nil, err
	}

	completed := 0
	for _, step := range rec.Spec.Steps {
		// Re-read per step; approvals may land while earlier steps run.
		current, err := e.store.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		st := current.StepStates[step.ID]
		if st == nil {
			return nil, fmt.Errorf("run %s has no state for step %s", runID, step.ID)
		}
		switch st.Status {
		case types.StepStatusCompleted, types.StepStatusSkipped:
			completed++
			continue
		case types.StepStatusApprovalRequired:
			msg := fmt.Sprintf("step %s requires approval", step.ID)
			if _, err := e.store.SetStatus(ctx, runID, types.RunStatusFailed, EventInput{StepID: step.ID, Message: msg}); err != nil {
				e.log.Warn("Failed to record approval-missing failure", "run_id", runID, "error", err)
			}
			return nil, fmt.Errorf("%w: %s", ErrApprovalMissing, msg)
		}

		attempts := st.Attempts + 1
		if _, err := e.store.UpdateStep(ctx, runID, step.ID, StepUpdate{Status: types.StepStatusRunning, Attempts: &attempts}); err != nil {
			return nil, err
		}
		output, err := e.runStep(ctx, current, step)
		if err != nil {
			if _, uerr := e.store.UpdateStep(ctx, runID, step.ID, StepUpdate{Status: types.StepStatusFailed, Message: err.Error()}); uerr != nil {
				e.log.Warn("Failed to record step failure", "run_id", runID, "step_id", step.ID, "error", uerr)
			}
			if _, serr := e.store.SetStatus(ctx, runID, types.RunStatusFailed, EventInput{StepID: step.ID, Message: err.Error()}); serr != nil {
				e.log.Warn("Failed to record run failure", "run_id", runID, "error", serr)
			}
			return nil, fmt.Errorf("step %s failed: %w", step.ID, err)
		}
		if _, err := e.store.UpdateStep(ctx, runID, step.ID, StepUpdate{Status: types.StepStatusCompleted, Output: output}); err != nil {
			return nil, err
		}
		completed++
	}

	summary := fmt.Sprintf("run %s completed %d/%d steps", runID, completed, len(rec.Spec.Steps))
	if _, err := e.store.SetStatus(ctx, runID, types.RunStatusCompleted, EventInput{Message: summary}); err != nil {
		return nil, err
	}
	return map[string]any{"runId": runID, "summary": summary}, nil
}

func (e *Executor) runStep(ctx context.Context, rec *types.RunSpecRecord, step types.RunStep) (map[string]any, error) {
	input := func(key string) string {
		if v, ok := step.Input[key].(string); ok {
			return v
		}
		return ""
	}
	switch step.Type {
	case "file.write":
		fileName := input("fileName")
		if fileName == "" {
			fileName = step.ID + ".txt"
		}
		dir := e.dir.Path("artifacts", rec.RunID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		filePath := filepath.Join(dir, fileName)
		if err := os.WriteFile(filePath, []byte(input("content")), 0o644); err != nil {
			return nil, err
		}
		if _, err := e.outbound.Enqueue(ctx, &types.Notification{
			SessionID: rec.SessionID,
			Kind:      types.NotificationKindFile,
			FilePath:  filePath,
			FileName:  fileName,
			MimeType:  input("mimeType"),
			Caption:   input("caption"),
		}); err != nil {
			return nil, err
		}
		return map[string]any{"filePath": filePath}, nil
	case "message", "note":
		text := input("text")
		if text == "" {
			text = step.Name
		}
		if _, err := e.outbound.Enqueue(ctx, &types.Notification{
			SessionID: rec.SessionID,
			Kind:      types.NotificationKindText,
			Text:      text,
		}); err != nil {
			return nil, err
		}
		return map[string]any{"text": text}, nil
	default:
		// Unknown step types are inert: they complete and echo their input.
		return step.Input, nil
	}
}
