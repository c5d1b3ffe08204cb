package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/assistant-gateway/internal/platform/apierr"
	"github.com/yungbote/assistant-gateway/internal/types"
)

// BaileysInbound mirrors the webhook body a Baileys bridge posts for each
// WhatsApp message.
type BaileysInbound struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
	} `json:"key"`
	Message struct {
		Conversation string `json:"conversation"`
	} `json:"message"`
	PushName string `json:"pushName,omitempty"`
}

// HandleBaileysInbound dedupes on the (channel, jid, messageId) fingerprint
// and feeds the message through the normal inbound pipeline. A leading
// "/job" turns the message into an async job request.
func (g *GatewayService) HandleBaileysInbound(ctx context.Context, in BaileysInbound) (*types.GatewayResult, error) {
	text := strings.TrimSpace(in.Message.Conversation)
	if in.Key.ID == "" || in.Key.RemoteJID == "" || text == "" {
		return nil, apierr.BadRequest("invalid_baileys_inbound", fmt.Errorf("key.id, key.remoteJid and message.conversation are required"))
	}

	key := fmt.Sprintf("baileys:%s:%s", in.Key.RemoteJID, in.Key.ID)
	dup, err := g.dedupe.IsDuplicateAndMark(ctx, key)
	if err != nil {
		return nil, err
	}
	if dup {
		if g.metrics != nil {
			g.metrics.DedupeHits.Inc()
		}
		g.log.Debug("Dropped duplicate baileys message", "key", key)
		return &types.GatewayResult{Mode: ModeDuplicate, Duplicate: true}, nil
	}

	requestJob := false
	if rest, ok := strings.CutPrefix(text, "/job"); ok {
		requestJob = true
		if trimmed := strings.TrimSpace(rest); trimmed != "" {
			text = trimmed
		}
	}
	return g.HandleInbound(ctx, types.InboundMessage{
		SessionID:  in.Key.RemoteJID,
		Text:       text,
		RequestJob: requestJob,
		Channel:    "whatsapp",
		Metadata: map[string]any{
			"remoteJid": in.Key.RemoteJID,
			"messageId": in.Key.ID,
			"pushName":  in.PushName,
		},
	})
}
