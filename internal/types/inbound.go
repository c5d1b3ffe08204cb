package types

// InboundMessage is one message arriving from any chat channel.
type InboundMessage struct {
	SessionID  string         `json:"sessionId"`
	Text       string         `json:"text"`
	RequestJob bool           `json:"requestJob,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// GatewayResult is what the facade returns for an inbound message.
type GatewayResult struct {
	Mode      string `json:"mode"`
	Response  string `json:"response,omitempty"`
	JobID     string `json:"jobId,omitempty"`
	Duplicate bool   `json:"duplicate"`
}
