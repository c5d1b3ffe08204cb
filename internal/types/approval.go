package types

import "time"

// ApprovalToken authorizes exactly one privileged action for a session.
// Consume deletes the record, so a second consume of the same token misses.
type ApprovalToken struct {
	Token     string         `json:"token"`
	SessionID string         `json:"sessionId"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

func (a *ApprovalToken) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
