package types

import (
	"time"

	"github.com/google/uuid"
)

type NotificationKind string

const (
	NotificationKindText NotificationKind = "text"
	NotificationKindFile NotificationKind = "file"
)

// Notification is one outbound message queued for a chat channel. Exactly one
// of Text (kind=text) or FilePath (kind=file) is set and non-empty.
type Notification struct {
	ID          uuid.UUID        `json:"id"`
	SessionID   string           `json:"sessionId"`
	Kind        NotificationKind `json:"kind"`
	Text        string           `json:"text,omitempty"`
	FilePath    string           `json:"filePath,omitempty"`
	FileName    string           `json:"fileName,omitempty"`
	MimeType    string           `json:"mimeType,omitempty"`
	Caption     string           `json:"caption,omitempty"`
	JobID       *uuid.UUID       `json:"jobId,omitempty"`
	Status      string           `json:"status,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	DeliveredAt *time.Time       `json:"deliveredAt,omitempty"`
}
