package types

import (
	"time"

	"github.com/google/uuid"
)

// ConversationEvent is one entry of the observable conversation stream.
type ConversationEvent struct {
	ID        uuid.UUID      `json:"id"`
	SessionID string         `json:"sessionId"`
	Source    string         `json:"source"`
	Channel   string         `json:"channel"`
	Direction string         `json:"direction"`
	Kind      string         `json:"kind"`
	Text      string         `json:"text"`
	CreatedAt time.Time      `json:"createdAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
