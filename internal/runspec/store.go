package runspec

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/state"
	"github.com/yungbote/assistant-gateway/internal/types"
)

var ErrNotFound = errors.New("run spec not found")

// Store owns builtins/run_specs/<runId>.json. Put is the only way to create
// or replace a record and the stored spec is immutable afterwards; every
// other mutation appends to the run's gap-free event timeline.
type Store struct {
	dir *state.Dir
	log *logger.Logger
	mu  sync.Mutex
}

func NewStore(dir *state.Dir, baseLog *logger.Logger) *Store {
	return &Store{dir: dir, log: baseLog.With("component", "RunSpecStore")}
}

func (s *Store) path(runID string) string {
	return s.dir.Path("builtins", "run_specs", runID+".json")
}

func (s *Store) read(runID string) (*types.RunSpecRecord, error) {
	var rec types.RunSpecRecord
	if err := s.dir.ReadJSON(s.path(runID), &rec); err != nil {
		if errors.Is(err, state.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Store) write(rec *types.RunSpecRecord) error {
	return s.dir.WriteJSONAtomic(s.path(rec.RunID), rec)
}

type PutInput struct {
	RunID           string
	SessionID       string
	JobID           string
	Status          types.RunStatus
	Spec            types.RunSpec
	ApprovedStepIDs []string
}

// Put creates the record, computing initial step states from the spec's
// approval requirements, and writes the seq=1 started event. Replacing an
// existing record keeps its original spec.
func (s *Store) Put(ctx context.Context, in PutInput) (*types.RunSpecRecord, error) {
	if in.RunID == "" || in.SessionID == "" {
		return nil, fmt.Errorf("runId and sessionId are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, err := s.read(in.RunID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		// Spec immutability: only status, job binding and approvals move.
		existing.Status = in.Status
		existing.JobID = in.JobID
		if in.ApprovedStepIDs != nil {
			existing.ApprovedStepIDs = in.ApprovedStepIDs
		}
		existing.UpdatedAt = now
		if err := s.write(existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	rec := &types.RunSpecRecord{
		RunID:           in.RunID,
		SessionID:       in.SessionID,
		JobID:           in.JobID,
		Status:          in.Status,
		Spec:            in.Spec,
		ApprovedStepIDs: in.ApprovedStepIDs,
		StepStates:      make(map[string]*types.StepState, len(in.Spec.Steps)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if rec.ApprovedStepIDs == nil {
		rec.ApprovedStepIDs = []string{}
	}
	for _, step := range in.Spec.Steps {
		st := &types.StepState{Status: types.StepStatusPending}
		if step.Approval != nil && step.Approval.Required {
			if rec.StepApproved(step.ID) {
				st.Status = types.StepStatusApproved
			} else {
				st.Status = types.StepStatusApprovalRequired
			}
		}
		rec.StepStates[step.ID] = st
	}
	rec.Events = []types.RunEvent{{
		Seq:     1,
		At:      now,
		Type:    types.RunEventStarted,
		Message: fmt.Sprintf("run %s created with %d steps", rec.RunID, len(in.Spec.Steps)),
	}}
	if err := s.write(rec); err != nil {
		return nil, err
	}
	s.log.Debug("Run spec stored", "run_id", rec.RunID, "session_id", rec.SessionID, "steps", len(in.Spec.Steps))
	return rec, nil
}

func (s *Store) Get(ctx context.Context, runID string) (*types.RunSpecRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(runID)
}

// ListBySession returns runs for a session, most recently updated first.
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]*types.RunSpecRecord, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.dir.ListJSONIDs("builtins/run_specs")
	if err != nil {
		return nil, err
	}
	var out []*types.RunSpecRecord
	for _, id := range ids {
		rec, err := s.read(id)
		if err != nil {
			continue
		}
		if sessionID == "" || rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type EventInput struct {
	Type    types.RunEventType
	StepID  string
	Message string
	Payload map[string]any
}

func appendEvent(rec *types.RunSpecRecord, in EventInput, now time.Time) {
	rec.Events = append(rec.Events, types.RunEvent{
		Seq:     len(rec.Events) + 1,
		At:      now,
		Type:    in.Type,
		StepID:  in.StepID,
		Message: in.Message,
		Payload: in.Payload,
	})
}

func (s *Store) AppendEvent(ctx context.Context, runID string, in EventInput) (*types.RunSpecRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read(runID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	appendEvent(rec, in, now)
	rec.UpdatedAt = now
	if err := s.write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// SetStatus moves the run status and appends the matching lifecycle event;
// intermediate statuses get a note event.
func (s *Store) SetStatus(ctx context.Context, runID string, status types.RunStatus, in EventInput) (*types.RunSpecRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read(runID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rec.Status = status
	eventType := types.RunEventNote
	switch status {
	case types.RunStatusCompleted:
		eventType = types.RunEventCompleted
	case types.RunStatusFailed:
		eventType = types.RunEventFailed
	case types.RunStatusCancelled:
		eventType = types.RunEventCancelled
	}
	appendEvent(rec, EventInput{Type: eventType, StepID: in.StepID, Message: in.Message, Payload: in.Payload}, now)
	rec.UpdatedAt = now
	if err := s.write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

type StepUpdate struct {
	Status   types.StepStatus
	Message  string
	Output   map[string]any
	Attempts *int
}

// UpdateStep moves one step's state and appends a step_status event. The
// first running transition stamps startedAt; terminal transitions stamp
// endedAt, backfilling startedAt when the step never visibly ran.
func (s *Store) UpdateStep(ctx context.Context, runID, stepID string, in StepUpdate) (*types.RunSpecRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read(runID)
	if err != nil {
		return nil, err
	}
	st, ok := rec.StepStates[stepID]
	if !ok {
		return nil, fmt.Errorf("run %s has no step %s", runID, stepID)
	}
	now := time.Now().UTC()
	st.Status = in.Status
	if in.Message != "" {
		st.Message = in.Message
	}
	if in.Output != nil {
		st.Output = in.Output
	}
	if in.Attempts != nil {
		st.Attempts = *in.Attempts
	}
	if in.Status == types.StepStatusRunning && st.StartedAt == nil {
		st.StartedAt = &now
	}
	if in.Status.Terminal() {
		st.EndedAt = &now
		if st.StartedAt == nil {
			st.StartedAt = &now
		}
	}
	appendEvent(rec, EventInput{
		Type:    types.RunEventStepStatus,
		StepID:  stepID,
		Message: in.Message,
		Payload: map[string]any{"status": string(in.Status)},
	}, now)
	rec.UpdatedAt = now
	if err := s.write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GrantStepApproval records the user's approval for one gated step.
func (s *Store) GrantStepApproval(ctx context.Context, runID, stepID string) (*types.RunSpecRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read(runID)
	if err != nil {
		return nil, err
	}
	st, ok := rec.StepStates[stepID]
	if !ok {
		return nil, fmt.Errorf("run %s has no step %s", runID, stepID)
	}
	now := time.Now().UTC()
	if !rec.StepApproved(stepID) {
		rec.ApprovedStepIDs = append(rec.ApprovedStepIDs, stepID)
	}
	if st.Status == types.StepStatusApprovalRequired || st.Status == types.StepStatusPending {
		st.Status = types.StepStatusApproved
		st.Message = "Approved by user"
	}
	appendEvent(rec, EventInput{Type: types.RunEventApprovalGranted, StepID: stepID, Message: "Approved by user"}, now)
	rec.UpdatedAt = now
	if err := s.write(rec); err != nil {
		return nil, err
	}
	s.log.Info("Step approval granted", "run_id", runID, "step_id", stepID)
	return rec, nil
}
