package types

import (
	"time"

	"github.com/google/uuid"
)

type ReminderStatus string

const (
	ReminderStatusPending   ReminderStatus = "pending"
	ReminderStatusTriggered ReminderStatus = "triggered"
	ReminderStatusCancelled ReminderStatus = "cancelled"
)

type Reminder struct {
	ID          uuid.UUID      `json:"id"`
	SessionID   string         `json:"sessionId"`
	Text        string         `json:"text"`
	RemindAt    time.Time      `json:"remindAt"`
	Status      ReminderStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	TriggeredAt *time.Time     `json:"triggeredAt,omitempty"`
}
