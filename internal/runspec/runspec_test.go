package runspec

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/notify"
	"github.com/yungbote/assistant-gateway/internal/state"
	"github.com/yungbote/assistant-gateway/internal/types"
)

func newFixture(t *testing.T) (*Store, *Executor, *notify.Store) {
	t.Helper()
	dir, err := state.NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	store := NewStore(dir, logger.NewNop())
	outbound := notify.NewStore(dir, logger.NewNop())
	return store, NewExecutor(store, outbound, dir, logger.NewNop()), outbound
}

func gatedSpec() types.RunSpec {
	return types.RunSpec{Steps: []types.RunStep{
		{ID: "s1", Type: "note", Name: "announce", Input: map[string]any{"text": "starting"}},
		{ID: "s2", Type: "file.write", Name: "write report", Input: map[string]any{
			"fileName": "report.txt",
			"content":  "findings",
		}, Approval: &types.StepApproval{Required: true, Capability: "file.write"}},
	}}
}

func TestPutInitialStatesAndSeq(t *testing.T) {
	store, _, _ := newFixture(t)
	ctx := context.Background()

	rec, err := store.Put(ctx, PutInput{RunID: "r1", SessionID: "s1", Status: types.RunStatusQueued, Spec: gatedSpec()})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if rec.StepStates["s1"].Status != types.StepStatusPending {
		t.Fatalf("ungated step should be pending: %#v", rec.StepStates["s1"])
	}
	if rec.StepStates["s2"].Status != types.StepStatusApprovalRequired {
		t.Fatalf("gated step should be approval_required: %#v", rec.StepStates["s2"])
	}
	if len(rec.Events) != 1 || rec.Events[0].Seq != 1 || rec.Events[0].Type != types.RunEventStarted {
		t.Fatalf("missing started event: %#v", rec.Events)
	}

	pre, err := store.Put(ctx, PutInput{RunID: "r2", SessionID: "s1", Status: types.RunStatusQueued, Spec: gatedSpec(), ApprovedStepIDs: []string{"s2"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if pre.StepStates["s2"].Status != types.StepStatusApproved {
		t.Fatalf("pre-approved step should be approved: %#v", pre.StepStates["s2"])
	}
}

func TestEventSeqIsGapFree(t *testing.T) {
	store, _, _ := newFixture(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, PutInput{RunID: "r1", SessionID: "s1", Status: types.RunStatusQueued, Spec: gatedSpec()}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.AppendEvent(ctx, "r1", EventInput{Type: types.RunEventNote, Message: "hello"}); err != nil {
		t.Fatalf("appendEvent: %v", err)
	}
	if _, err := store.UpdateStep(ctx, "r1", "s1", StepUpdate{Status: types.StepStatusRunning}); err != nil {
		t.Fatalf("updateStep: %v", err)
	}
	rec, err := store.SetStatus(ctx, "r1", types.RunStatusCancelled, EventInput{Message: "user abort"})
	if err != nil {
		t.Fatalf("setStatus: %v", err)
	}
	for i, evt := range rec.Events {
		if evt.Seq != i+1 {
			t.Fatalf("events[%d].seq = %d", i, evt.Seq)
		}
	}
	last := rec.Events[len(rec.Events)-1]
	if last.Type != types.RunEventCancelled {
		t.Fatalf("cancel should append cancelled event, got %s", last.Type)
	}
}

func TestUpdateStepTimestamps(t *testing.T) {
	store, _, _ := newFixture(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, PutInput{RunID: "r1", SessionID: "s1", Status: types.RunStatusQueued, Spec: gatedSpec()}); err != nil {
		t.Fatalf("put: %v", err)
	}

	rec, err := store.UpdateStep(ctx, "r1", "s1", StepUpdate{Status: types.StepStatusRunning})
	if err != nil {
		t.Fatalf("updateStep: %v", err)
	}
	started := rec.StepStates["s1"].StartedAt
	if started == nil {
		t.Fatalf("running step should get startedAt")
	}
	rec, err = store.UpdateStep(ctx, "r1", "s1", StepUpdate{Status: types.StepStatusCompleted})
	if err != nil {
		t.Fatalf("updateStep: %v", err)
	}
	st := rec.StepStates["s1"]
	if st.EndedAt == nil || !started.Equal(*st.StartedAt) {
		t.Fatalf("terminal step timestamps wrong: %#v", st)
	}
	if st.EndedAt.Before(*st.StartedAt) {
		t.Fatalf("endedAt before startedAt: %#v", st)
	}

	// A step failed without ever running gets both stamps backfilled.
	rec, err = store.UpdateStep(ctx, "r1", "s2", StepUpdate{Status: types.StepStatusCancelled})
	if err != nil {
		t.Fatalf("updateStep: %v", err)
	}
	if rec.StepStates["s2"].StartedAt == nil || rec.StepStates["s2"].EndedAt == nil {
		t.Fatalf("terminal step missing timestamps: %#v", rec.StepStates["s2"])
	}
}

func TestExecutorApprovalGate(t *testing.T) {
	store, exec, outbound := newFixture(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, PutInput{RunID: "r1", SessionID: "s1", Status: types.RunStatusQueued, Spec: gatedSpec()}); err != nil {
		t.Fatalf("put: %v", err)
	}

	_, err := exec.Execute(ctx, "r1")
	if !errors.Is(err, ErrApprovalMissing) {
		t.Fatalf("expected approval-missing failure, got %v", err)
	}
	rec, _ := store.Get(ctx, "r1")
	if rec.Status != types.RunStatusFailed {
		t.Fatalf("run should be failed: %s", rec.Status)
	}
	if rec.StepStates["s2"].Status != types.StepStatusApprovalRequired {
		t.Fatalf("gated step state must be untouched: %#v", rec.StepStates["s2"])
	}
	pending, _ := outbound.ListPending(ctx)
	// Only the ungated note step ran; no file notification.
	for _, n := range pending {
		if n.Kind == types.NotificationKindFile {
			t.Fatalf("file notification enqueued despite missing approval")
		}
	}

	if _, err := store.GrantStepApproval(ctx, "r1", "s2"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	rec, _ = store.Get(ctx, "r1")
	if rec.StepStates["s2"].Status != types.StepStatusApproved || rec.StepStates["s2"].Message != "Approved by user" {
		t.Fatalf("grant did not approve step: %#v", rec.StepStates["s2"])
	}

	result, err := exec.Execute(ctx, "r1")
	if err != nil {
		t.Fatalf("execute after approval: %v", err)
	}
	if result["runId"] != "r1" {
		t.Fatalf("unexpected result: %#v", result)
	}
	rec, _ = store.Get(ctx, "r1")
	if rec.Status != types.RunStatusCompleted {
		t.Fatalf("run should be completed: %s", rec.Status)
	}
	pending, _ = outbound.ListPending(ctx)
	files := 0
	for _, n := range pending {
		if n.Kind == types.NotificationKindFile {
			files++
			if n.FileName != "report.txt" || n.SessionID != "s1" {
				t.Fatalf("unexpected file notification: %#v", n)
			}
		}
	}
	if files != 1 {
		t.Fatalf("expected exactly one file notification, got %d", files)
	}
}

func TestGrantApprovalEmitsEvent(t *testing.T) {
	store, _, _ := newFixture(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, PutInput{RunID: "r1", SessionID: "s1", Status: types.RunStatusQueued, Spec: gatedSpec()}); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec, err := store.GrantStepApproval(ctx, "r1", "s2")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	last := rec.Events[len(rec.Events)-1]
	if last.Type != types.RunEventApprovalGranted || last.StepID != "s2" {
		t.Fatalf("missing approval_granted event: %#v", last)
	}
	if !rec.StepApproved("s2") {
		t.Fatalf("approvedStepIds not updated: %#v", rec.ApprovedStepIDs)
	}
}
