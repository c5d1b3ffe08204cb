package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/assistant-gateway/internal/approvals"
	"github.com/yungbote/assistant-gateway/internal/convo"
	"github.com/yungbote/assistant-gateway/internal/dedupe"
	"github.com/yungbote/assistant-gateway/internal/jobs"
	"github.com/yungbote/assistant-gateway/internal/jobs/worker"
	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/metrics"
	"github.com/yungbote/assistant-gateway/internal/notify"
	"github.com/yungbote/assistant-gateway/internal/platform/apierr"
	"github.com/yungbote/assistant-gateway/internal/runspec"
	"github.com/yungbote/assistant-gateway/internal/state"
	"github.com/yungbote/assistant-gateway/internal/types"
)

type fixture struct {
	gateway   *GatewayService
	jobs      *jobs.Store
	approvals *approvals.Store
	runs      *runspec.Store
	outbound  *notify.Store
	convoLog  *convo.Log
}

func newGatewayFixture(t *testing.T) *fixture {
	t.Helper()
	dir, err := state.NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	log := logger.NewNop()
	convoLog, err := convo.NewLog(dir, log, convo.Config{DedupeWindow: time.Nanosecond})
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	f := &fixture{
		jobs:      jobs.NewStore(dir, log),
		approvals: approvals.NewStore(dir, log),
		runs:      runspec.NewStore(dir, log),
		outbound:  notify.NewStore(dir, log),
		convoLog:  convoLog,
	}
	f.gateway = NewGatewayService(GatewayDeps{
		Jobs:      f.jobs,
		Approvals: f.approvals,
		Runs:      f.runs,
		Outbound:  f.outbound,
		Dedupe:    dedupe.NewStore(dir, log, 0),
		ConvoLog:  convoLog,
		Metrics:   metrics.NewSet(),
	}, log)
	return f
}

func TestChatAckWithoutLLM(t *testing.T) {
	f := newGatewayFixture(t)
	res, err := f.gateway.HandleInbound(context.Background(), types.InboundMessage{SessionID: "s1", Text: "hi"})
	if err != nil {
		t.Fatalf("handleInbound: %v", err)
	}
	if res.Mode != ModeChat || res.Response != "ack:hi" {
		t.Fatalf("unexpected result: %#v", res)
	}
	events, _ := f.convoLog.Query(context.Background(), convo.QueryFilter{SessionID: "s1"})
	if len(events) != 2 {
		t.Fatalf("expected inbound and outbound events, got %#v", events)
	}
}

func TestInvalidInboundRejected(t *testing.T) {
	f := newGatewayFixture(t)
	_, err := f.gateway.HandleInbound(context.Background(), types.InboundMessage{SessionID: "", Text: "hi"})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Code != "invalid_inbound_message" {
		t.Fatalf("expected invalid_inbound_message, got %v", err)
	}
}

func TestRequestJobCreatesStubTask(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	res, err := f.gateway.HandleInbound(ctx, types.InboundMessage{
		SessionID:  "s1",
		Text:       "work",
		RequestJob: true,
		Metadata:   map[string]any{"origin": "test"},
	})
	if err != nil {
		t.Fatalf("handleInbound: %v", err)
	}
	if res.Mode != ModeAsyncJob || res.JobID == "" {
		t.Fatalf("unexpected result: %#v", res)
	}
	id, err := uuid.Parse(res.JobID)
	if err != nil {
		t.Fatalf("jobId not a uuid: %q", res.JobID)
	}
	job, err := f.jobs.Get(ctx, id)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.Type != "stub_task" || job.Priority != requestJobPriority {
		t.Fatalf("unexpected job: type=%s priority=%d", job.Type, job.Priority)
	}
	if job.PayloadString("text") != "work" || job.PayloadString("sessionId") != "s1" || job.PayloadString("origin") != "test" {
		t.Fatalf("payload wrong: %#v", job.Payload)
	}
	pending, _ := f.outbound.ListPending(ctx)
	if len(pending) != 1 || pending[0].Kind != types.NotificationKindText {
		t.Fatalf("expected one queued-notification: %#v", pending)
	}
}

func TestStubTaskProcessorEchoesText(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	job, err := f.jobs.Create(ctx, "stub_task", map[string]any{"text": "work", "sessionId": "s1"}, 5, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	claimed, err := f.jobs.ClaimNextQueued(ctx, "w-test")
	if err != nil || claimed == nil {
		t.Fatalf("claim: %#v err=%v", claimed, err)
	}
	defer f.jobs.ReleaseClaim(claimed.ID)
	_ = job
	result, err := StubTaskProcessor()(worker.NewContext(ctx, claimed, f.jobs, logger.NewNop(), nil))
	if err != nil {
		t.Fatalf("processor: %v", err)
	}
	if result["summary"] != "processed:work" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestApprovalVerbWithToken(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	tok, err := f.approvals.Create(ctx, "s1", "deploy", nil, 0)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	res, err := f.gateway.HandleInbound(ctx, types.InboundMessage{SessionID: "s1", Text: "approve " + tok.Token})
	if err != nil {
		t.Fatalf("handleInbound: %v", err)
	}
	if res.Mode != ModeApproval || res.Response != "Approved deploy" {
		t.Fatalf("unexpected result: %#v", res)
	}
	if again, _ := f.approvals.Consume(ctx, "s1", tok.Token); again != nil {
		t.Fatalf("token survived approval: %#v", again)
	}
}

func TestBareYesConsumesLatest(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	if _, err := f.approvals.Create(ctx, "s1", "older", nil, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := f.approvals.Create(ctx, "s1", "newer", nil, 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := f.gateway.HandleInbound(ctx, types.InboundMessage{SessionID: "s1", Text: "yes"})
	if err != nil {
		t.Fatalf("handleInbound: %v", err)
	}
	if res.Response != "Approved newer" {
		t.Fatalf("bare yes should consume the latest approval: %#v", res)
	}
	// One message, one approval: the older one is still pending.
	left, _ := f.approvals.ListBySession(ctx, "s1", 10)
	if len(left) != 1 || left[0].Action != "older" {
		t.Fatalf("older approval should remain: %#v", left)
	}
}

func TestBareNoDiscardsLatest(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	if _, err := f.approvals.Create(ctx, "s1", "risky", nil, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := f.gateway.HandleInbound(ctx, types.InboundMessage{SessionID: "s1", Text: "no"})
	if err != nil {
		t.Fatalf("handleInbound: %v", err)
	}
	if res.Response != "Rejected risky" {
		t.Fatalf("unexpected result: %#v", res)
	}
	if left, _ := f.approvals.ListBySession(ctx, "s1", 10); len(left) != 0 {
		t.Fatalf("rejected approval still pending: %#v", left)
	}
}

func TestNoPendingApproval(t *testing.T) {
	f := newGatewayFixture(t)
	res, err := f.gateway.HandleInbound(context.Background(), types.InboundMessage{SessionID: "s1", Text: "yes"})
	if err != nil {
		t.Fatalf("handleInbound: %v", err)
	}
	if res.Response != "No pending approval found" {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestStepApprovalCommand(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	spec := types.RunSpec{Steps: []types.RunStep{
		{ID: "s-write", Type: "file.write", Approval: &types.StepApproval{Required: true}},
	}}
	if _, err := f.runs.Put(ctx, runspec.PutInput{RunID: "r1", SessionID: "s1", Status: types.RunStatusQueued, Spec: spec}); err != nil {
		t.Fatalf("put: %v", err)
	}
	res, err := f.gateway.HandleInbound(ctx, types.InboundMessage{SessionID: "s1", Text: "approve step s-write of run r1"})
	if err != nil {
		t.Fatalf("handleInbound: %v", err)
	}
	if res.Mode != ModeApproval || res.Response != "Approved step s-write of run r1" {
		t.Fatalf("unexpected result: %#v", res)
	}
	rec, _ := f.runs.Get(ctx, "r1")
	if rec.StepStates["s-write"].Status != types.StepStatusApproved {
		t.Fatalf("step not approved: %#v", rec.StepStates["s-write"])
	}

	_, err = f.gateway.HandleInbound(ctx, types.InboundMessage{SessionID: "s1", Text: "approve step x of run missing"})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Code != "run_not_found" {
		t.Fatalf("expected run_not_found, got %v", err)
	}
}

func TestApprovedTokenBoundToRunStep(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	spec := types.RunSpec{Steps: []types.RunStep{
		{ID: "s1", Type: "file.write", Approval: &types.StepApproval{Required: true}},
	}}
	if _, err := f.runs.Put(ctx, runspec.PutInput{RunID: "r1", SessionID: "sess", Status: types.RunStatusQueued, Spec: spec}); err != nil {
		t.Fatalf("put: %v", err)
	}
	tok, err := f.approvals.Create(ctx, "sess", "run_spec_step", map[string]any{"runId": "r1", "stepId": "s1"}, 0)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	res, err := f.gateway.ResolveApproval(ctx, "sess", "approve", tok.Token)
	if err != nil {
		t.Fatalf("resolveApproval: %v", err)
	}
	if res.Response != "Approved step s1 of run r1" {
		t.Fatalf("unexpected result: %#v", res)
	}
	rec, _ := f.runs.Get(ctx, "r1")
	if rec.StepStates["s1"].Status != types.StepStatusApproved {
		t.Fatalf("step not approved via token: %#v", rec.StepStates["s1"])
	}
}

func TestRegisteredActionHandlerRuns(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	f.gateway.RegisterAction("deploy", func(ctx context.Context, tok *types.ApprovalToken) (string, error) {
		return "Deployed " + tok.Payload["target"].(string), nil
	})
	tok, _ := f.approvals.Create(ctx, "s1", "deploy", map[string]any{"target": "prod"}, 0)
	res, err := f.gateway.ResolveApproval(ctx, "s1", "approve", tok.Token)
	if err != nil {
		t.Fatalf("resolveApproval: %v", err)
	}
	if res.Response != "Deployed prod" {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestBaileysDedupeAndJobCommand(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	in := BaileysInbound{}
	in.Key.ID = "m-1"
	in.Key.RemoteJID = "u@x"
	in.Message.Conversation = "/job run"

	first, err := f.gateway.HandleBaileysInbound(ctx, in)
	if err != nil {
		t.Fatalf("first inbound: %v", err)
	}
	if first.Mode != ModeAsyncJob || first.Duplicate || first.JobID == "" {
		t.Fatalf("unexpected first result: %#v", first)
	}
	id, _ := uuid.Parse(first.JobID)
	job, err := f.jobs.Get(ctx, id)
	if err != nil {
		t.Fatalf("job missing: %v", err)
	}
	if job.PayloadString("text") != "run" {
		t.Fatalf("command prefix should be stripped: %#v", job.Payload)
	}

	second, err := f.gateway.HandleBaileysInbound(ctx, in)
	if err != nil {
		t.Fatalf("second inbound: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("duplicate not detected: %#v", second)
	}
	all, _ := f.jobs.List(ctx)
	if len(all) != 1 {
		t.Fatalf("duplicate created a job: %d jobs", len(all))
	}
}

func TestBaileysValidation(t *testing.T) {
	f := newGatewayFixture(t)
	in := BaileysInbound{}
	in.Key.ID = "m-1"
	_, err := f.gateway.HandleBaileysInbound(context.Background(), in)
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Code != "invalid_baileys_inbound" {
		t.Fatalf("expected invalid_baileys_inbound, got %v", err)
	}
}
