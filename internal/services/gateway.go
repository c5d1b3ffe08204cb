package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/yungbote/assistant-gateway/internal/approvals"
	"github.com/yungbote/assistant-gateway/internal/convo"
	"github.com/yungbote/assistant-gateway/internal/dedupe"
	"github.com/yungbote/assistant-gateway/internal/jobs"
	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/metrics"
	"github.com/yungbote/assistant-gateway/internal/notify"
	"github.com/yungbote/assistant-gateway/internal/platform/apierr"
	"github.com/yungbote/assistant-gateway/internal/runspec"
	"github.com/yungbote/assistant-gateway/internal/types"
)

// LLMService produces chat replies. When no implementation is configured
// the gateway answers with a deterministic "ack:<text>".
type LLMService interface {
	Reply(ctx context.Context, sessionID, text string) (string, error)
}

// ActionHandler resolves an approved token into a user-facing response.
type ActionHandler func(ctx context.Context, token *types.ApprovalToken) (string, error)

const (
	ModeChat      = "chat"
	ModeAsyncJob  = "async-job"
	ModeApproval  = "approval"
	ModeDuplicate = "duplicate"
)

const requestJobPriority = 5

var stepApprovalRe = regexp.MustCompile(`(?i)^approve\s+step\s+(\S+)\s+of\s+run\s+(\S+)$`)

// GatewayService is the front door for every inbound message, regardless of
// channel. It routes approval verbs, the run-step approval command, explicit
// job requests, and plain chat through the stores underneath.
type GatewayService struct {
	jobs      *jobs.Store
	approvals *approvals.Store
	runs      *runspec.Store
	outbound  *notify.Store
	dedupe    *dedupe.Store
	convoLog  *convo.Log
	metrics   *metrics.Set
	llm       LLMService
	log       *logger.Logger

	mu      sync.RWMutex
	actions map[string]ActionHandler
}

type GatewayDeps struct {
	Jobs      *jobs.Store
	Approvals *approvals.Store
	Runs      *runspec.Store
	Outbound  *notify.Store
	Dedupe    *dedupe.Store
	ConvoLog  *convo.Log
	Metrics   *metrics.Set
	LLM       LLMService
}

func NewGatewayService(deps GatewayDeps, baseLog *logger.Logger) *GatewayService {
	return &GatewayService{
		jobs:      deps.Jobs,
		approvals: deps.Approvals,
		runs:      deps.Runs,
		outbound:  deps.Outbound,
		dedupe:    deps.Dedupe,
		convoLog:  deps.ConvoLog,
		metrics:   deps.Metrics,
		llm:       deps.LLM,
		log:       baseLog.With("component", "GatewayService"),
		actions:   make(map[string]ActionHandler),
	}
}

// RegisterAction binds a handler to an approval action name. A registered
// handler runs when a token with that action is approved.
func (g *GatewayService) RegisterAction(action string, h ActionHandler) {
	g.mu.Lock()
	g.actions[action] = h
	g.mu.Unlock()
}

func (g *GatewayService) actionHandler(action string) ActionHandler {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.actions[action]
}

// HandleInbound routes one message and returns what the channel should say
// back. Async job requests return mode async-job with the new job id.
func (g *GatewayService) HandleInbound(ctx context.Context, msg types.InboundMessage) (*types.GatewayResult, error) {
	if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
		return nil, apierr.BadRequest("invalid_inbound_message", fmt.Errorf("sessionId and text are required"))
	}
	channel := msg.Channel
	if channel == "" {
		channel = "api"
	}
	g.recordEvent(ctx, msg.SessionID, "inbound", msg.Text, channel, "message", msg.Metadata)

	text := strings.TrimSpace(msg.Text)

	if m := stepApprovalRe.FindStringSubmatch(text); m != nil {
		return g.approveRunStep(ctx, msg.SessionID, channel, m[2], m[1])
	}
	if verb, token, ok := approvalVerb(text); ok {
		res, err := g.resolveApproval(ctx, msg.SessionID, verb, token)
		if err != nil {
			return nil, err
		}
		g.countInbound(channel, ModeApproval)
		g.recordEvent(ctx, msg.SessionID, "outbound", res.Response, channel, "approval", nil)
		return res, nil
	}
	if msg.RequestJob {
		return g.requestJob(ctx, msg, channel)
	}

	reply, err := g.chatReply(ctx, msg.SessionID, text)
	if err != nil {
		return nil, err
	}
	g.countInbound(channel, ModeChat)
	g.recordEvent(ctx, msg.SessionID, "outbound", reply, channel, "message", nil)
	return &types.GatewayResult{Mode: ModeChat, Response: reply}, nil
}

func (g *GatewayService) chatReply(ctx context.Context, sessionID, text string) (string, error) {
	if g.llm == nil {
		return "ack:" + text, nil
	}
	reply, err := g.llm.Reply(ctx, sessionID, text)
	if err != nil {
		g.log.Warn("LLM reply failed, falling back to ack", "session_id", sessionID, "error", err)
		return "ack:" + text, nil
	}
	return reply, nil
}

func (g *GatewayService) requestJob(ctx context.Context, msg types.InboundMessage, channel string) (*types.GatewayResult, error) {
	payload := map[string]any{
		"text":      strings.TrimSpace(msg.Text),
		"sessionId": msg.SessionID,
	}
	for k, v := range msg.Metadata {
		if _, taken := payload[k]; !taken {
			payload[k] = v
		}
	}
	job, err := g.jobs.Create(ctx, "stub_task", payload, requestJobPriority, "")
	if err != nil {
		return nil, err
	}
	if _, err := g.outbound.Enqueue(ctx, &types.Notification{
		SessionID: msg.SessionID,
		Kind:      types.NotificationKindText,
		Text:      fmt.Sprintf("Queued job %s", job.ID),
	}); err != nil {
		g.log.Warn("Failed to enqueue queued-notification", "job_id", job.ID, "error", err)
	}
	g.countInbound(channel, ModeAsyncJob)
	g.recordEvent(ctx, msg.SessionID, "outbound", fmt.Sprintf("Queued job %s", job.ID), channel, "status", map[string]any{"jobId": job.ID.String()})
	return &types.GatewayResult{Mode: ModeAsyncJob, JobID: job.ID.String()}, nil
}

func (g *GatewayService) approveRunStep(ctx context.Context, sessionID, channel, runID, stepID string) (*types.GatewayResult, error) {
	if _, err := g.runs.GrantStepApproval(ctx, runID, stepID); err != nil {
		if errors.Is(err, runspec.ErrNotFound) {
			return nil, apierr.NotFound("run_not_found", err)
		}
		return nil, err
	}
	response := fmt.Sprintf("Approved step %s of run %s", stepID, runID)
	g.countInbound(channel, ModeApproval)
	g.recordEvent(ctx, sessionID, "outbound", response, channel, "approval", map[string]any{"runId": runID, "stepId": stepID})
	return &types.GatewayResult{Mode: ModeApproval, Response: response}, nil
}

// approvalVerb reports whether the text is an approval resolution. The verb
// may carry one trailing token.
func approvalVerb(text string) (verb string, token string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || len(fields) > 2 {
		return "", "", false
	}
	switch strings.ToLower(fields[0]) {
	case "approve", "yes":
		verb = "approve"
	case "reject", "no":
		verb = "reject"
	default:
		return "", "", false
	}
	if len(fields) == 2 {
		token = fields[1]
	}
	return verb, token, true
}

// ResolveApproval is the HTTP-facing entry for explicit approve/reject
// decisions; verbs typed in chat funnel into the same path.
func (g *GatewayService) ResolveApproval(ctx context.Context, sessionID, decision, token string) (*types.GatewayResult, error) {
	if sessionID == "" || (decision != "approve" && decision != "reject") {
		return nil, apierr.BadRequest("invalid_approval_resolve_request", fmt.Errorf("sessionId and decision approve|reject are required"))
	}
	return g.resolveApproval(ctx, sessionID, decision, token)
}

func (g *GatewayService) resolveApproval(ctx context.Context, sessionID, decision, token string) (*types.GatewayResult, error) {
	var (
		resolved *types.ApprovalToken
		err      error
	)
	switch {
	case token != "":
		resolved, err = g.approvals.Consume(ctx, sessionID, token)
	case decision == "approve":
		resolved, err = g.approvals.ConsumeLatest(ctx, sessionID)
	default:
		resolved, err = g.approvals.DiscardLatest(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}
	if resolved == nil {
		return &types.GatewayResult{Mode: ModeApproval, Response: "No pending approval found"}, nil
	}
	if decision == "reject" {
		return &types.GatewayResult{Mode: ModeApproval, Response: fmt.Sprintf("Rejected %s", resolved.Action)}, nil
	}
	response, err := g.runApprovedAction(ctx, resolved)
	if err != nil {
		return nil, err
	}
	return &types.GatewayResult{Mode: ModeApproval, Response: response}, nil
}

func (g *GatewayService) runApprovedAction(ctx context.Context, tok *types.ApprovalToken) (string, error) {
	if h := g.actionHandler(tok.Action); h != nil {
		return h(ctx, tok)
	}
	// A token bound to a run step grants that step on approval.
	runID, _ := tok.Payload["runId"].(string)
	stepID, _ := tok.Payload["stepId"].(string)
	if runID != "" && stepID != "" {
		if _, err := g.runs.GrantStepApproval(ctx, runID, stepID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Approved step %s of run %s", stepID, runID), nil
	}
	return fmt.Sprintf("Approved %s", tok.Action), nil
}

func (g *GatewayService) recordEvent(ctx context.Context, sessionID, direction, text, channel, kind string, metadata map[string]any) {
	if g.convoLog == nil || text == "" {
		return
	}
	source := "gateway"
	if direction == "inbound" {
		source = channel
	}
	if _, err := g.convoLog.Add(ctx, sessionID, direction, text, convo.AddInput{
		Source:   source,
		Channel:  channel,
		Kind:     kind,
		Metadata: metadata,
	}); err != nil {
		g.log.Warn("Failed to record conversation event", "session_id", sessionID, "error", err)
	}
}

func (g *GatewayService) countInbound(channel, mode string) {
	if g.metrics != nil {
		g.metrics.InboundMessages.WithLabelValues(channel, mode).Inc()
	}
}
