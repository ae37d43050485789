package httpdto

import "github.com/google/uuid"

// TaskEventRequest is posted by the task service when a task the
// session core should announce changes.
type TaskEventRequest struct {
	Event        string      `json:"event" binding:"required"`
	TaskID       uuid.UUID   `json:"task_id" binding:"required"`
	TaskTitle    string      `json:"task_title"`
	ActorID      uuid.UUID   `json:"actor_id" binding:"required"`
	RecipientIDs []uuid.UUID `json:"recipient_ids" binding:"required"`

	// Set for task_updated only.
	Field    string  `json:"field,omitempty"`
	OldValue *string `json:"old_value,omitempty"`
	NewValue string  `json:"new_value,omitempty"`
}

const (
	TaskEventUpdated       = "task_updated"
	TaskEventShared        = "task_shared"
	TaskEventMemberRemoved = "task_member_removed"
)

type ReminderRequest struct {
	TaskID      uuid.UUID `json:"task_id" binding:"required"`
	TaskTitle   string    `json:"task_title" binding:"required"`
	RecipientID uuid.UUID `json:"recipient_id" binding:"required"`
}

type PushSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256dh   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}
