package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/assistant-gateway/internal/approvals"
	"github.com/yungbote/assistant-gateway/internal/http/response"
	"github.com/yungbote/assistant-gateway/internal/services"
)

type ApprovalHandler struct {
	approvals *approvals.Store
	gateway   *services.GatewayService
}

func NewApprovalHandler(store *approvals.Store, gateway *services.GatewayService) *ApprovalHandler {
	return &ApprovalHandler{approvals: store, gateway: gateway}
}

// GET /v1/approvals/pending?sessionId=&limit=
func (h *ApprovalHandler) ListPending(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_approval_resolve_request", fmt.Errorf("sessionId is required"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	pending, err := h.approvals.ListBySession(c.Request.Context(), sessionID, limit)
	if err != nil {
		response.RespondAPIError(c, http.StatusInternalServerError, "list_approvals_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"sessionId": sessionID, "count": len(pending), "pending": pending})
}

type resolveApprovalRequest struct {
	SessionID      string `json:"sessionId"`
	Decision       string `json:"decision"`
	Token          string `json:"token"`
	AuthSessionID  string `json:"authSessionId"`
	AuthPreference string `json:"authPreference"`
}

// POST /v1/approvals/resolve
func (h *ApprovalHandler) Resolve(c *gin.Context) {
	var req resolveApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_approval_resolve_request", err)
		return
	}
	res, err := h.gateway.ResolveApproval(c.Request.Context(), req.SessionID, req.Decision, req.Token)
	if err != nil {
		response.RespondAPIError(c, http.StatusInternalServerError, "resolve_approval_failed", err)
		return
	}
	response.RespondOK(c, res)
}
