package handlers

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/assistant-gateway/internal/http/response"
	"github.com/yungbote/assistant-gateway/internal/services"
)

type BaileysHandler struct {
	gateway      *services.GatewayService
	inboundToken string
}

// NewBaileysHandler wires the webhook endpoint; an empty inboundToken
// disables the shared-secret check.
func NewBaileysHandler(gateway *services.GatewayService, inboundToken string) *BaileysHandler {
	return &BaileysHandler{gateway: gateway, inboundToken: inboundToken}
}

// POST /v1/whatsapp/baileys/inbound
func (h *BaileysHandler) Inbound(c *gin.Context) {
	if h.inboundToken != "" {
		got := c.GetHeader("x-baileys-inbound-token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.inboundToken)) != 1 {
			response.RespondError(c, http.StatusUnauthorized, "unauthorized_baileys_inbound", fmt.Errorf("inbound token mismatch"))
			return
		}
	}
	var in services.BaileysInbound
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_baileys_inbound", err)
		return
	}
	res, err := h.gateway.HandleBaileysInbound(c.Request.Context(), in)
	if err != nil {
		response.RespondAPIError(c, http.StatusInternalServerError, "baileys_inbound_failed", err)
		return
	}
	if res.Mode == services.ModeAsyncJob {
		response.RespondAccepted(c, res)
		return
	}
	response.RespondOK(c, res)
}
