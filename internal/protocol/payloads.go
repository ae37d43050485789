package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Client-to-server payloads.

type SendMessagePayload struct {
	Target   Target  `json:"target"`
	Content  string  `json:"content"`
	ImageURL *string `json:"image_url,omitempty"`
}

type TypingPayload struct {
	Target   Target `json:"target"`
	IsTyping bool   `json:"is_typing"`
}

type MarkDeliveredPayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

type CallInvitePayload struct {
	Target   Target `json:"target"`
	CallKind string `json:"call_kind"`
}

// CallControlPayload backs call_accept, call_reject, call_leave and
// call_end; they differ only in the discriminant.
type CallControlPayload struct {
	CallID uuid.UUID `json:"call_id"`
}

// SDPPayload backs call_offer and call_answer. The SDP body is opaque
// to the server; it is relayed, never parsed.
type SDPPayload struct {
	CallID     uuid.UUID `json:"call_id"`
	FromUserID uuid.UUID `json:"from_user_id,omitempty"`
	ToUserID   uuid.UUID `json:"to_user_id"`
	SDP        string    `json:"sdp"`
}

type ICECandidatePayload struct {
	CallID     uuid.UUID `json:"call_id"`
	FromUserID uuid.UUID `json:"from_user_id,omitempty"`
	ToUserID   uuid.UUID `json:"to_user_id"`
	Candidate  string    `json:"candidate"`
}

// Server-to-client payloads.

type ChatMessagePayload struct {
	ID         uuid.UUID  `json:"id"`
	SenderID   uuid.UUID  `json:"sender_id"`
	ReceiverID *uuid.UUID `json:"receiver_id,omitempty"`
	GroupID    *uuid.UUID `json:"group_id,omitempty"`
	Content    string     `json:"content"`
	ImageURL   *string    `json:"image_url,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type MessageDeliveredPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	// RecipientID disambiguates receipts for group messages; empty for
	// direct messages, where the recipient is implied.
	RecipientID *uuid.UUID `json:"recipient_id,omitempty"`
}

type MessageReadPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	ReaderID  uuid.UUID `json:"reader_id"`
}

type PresenceChangedPayload struct {
	UserID   uuid.UUID `json:"user_id"`
	IsOnline bool      `json:"is_online"`
}

type TypingEventPayload struct {
	FromUserID uuid.UUID  `json:"from_user_id"`
	GroupID    *uuid.UUID `json:"group_id,omitempty"`
	IsTyping   bool       `json:"is_typing"`
}

type CallParticipantState struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
	Status string    `json:"status"`
}

type CallStateChangedPayload struct {
	CallID       uuid.UUID              `json:"call_id"`
	CallerID     uuid.UUID              `json:"caller_id"`
	Status       string                 `json:"status"`
	CallKind     string                 `json:"call_kind"`
	Participants []CallParticipantState `json:"participants"`
}

type NotificationPushPayload struct {
	ID        uuid.UUID  `json:"id"`
	Kind      string     `json:"kind"`
	Message   string     `json:"message"`
	RefID     *uuid.UUID `json:"ref_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type TaskUpdatedPayload struct {
	TaskID    uuid.UUID `json:"task_id"`
	UpdatedBy uuid.UUID `json:"updated_by"`
	Field     string    `json:"field"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value"`
}

type TaskSharedPayload struct {
	TaskID           uuid.UUID `json:"task_id"`
	TaskTitle        string    `json:"task_title"`
	SharedBy         uuid.UUID `json:"shared_by"`
	SharedByUsername string    `json:"shared_by_username"`
}

type TaskMemberRemovedPayload struct {
	TaskID    uuid.UUID `json:"task_id"`
	TaskTitle string    `json:"task_title"`
	RemovedBy uuid.UUID `json:"removed_by"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
