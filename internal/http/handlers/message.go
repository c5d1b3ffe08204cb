package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/assistant-gateway/internal/http/response"
	"github.com/yungbote/assistant-gateway/internal/services"
	"github.com/yungbote/assistant-gateway/internal/types"
)

type MessageHandler struct {
	gateway *services.GatewayService
}

func NewMessageHandler(gateway *services.GatewayService) *MessageHandler {
	return &MessageHandler{gateway: gateway}
}

// POST /v1/messages/inbound
func (h *MessageHandler) Inbound(c *gin.Context) {
	var msg types.InboundMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_inbound_message", err)
		return
	}
	res, err := h.gateway.HandleInbound(c.Request.Context(), msg)
	if err != nil {
		response.RespondAPIError(c, http.StatusInternalServerError, "inbound_failed", err)
		return
	}
	if res.Mode == services.ModeAsyncJob {
		response.RespondAccepted(c, res)
		return
	}
	response.RespondOK(c, res)
}
