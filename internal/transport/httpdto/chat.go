package httpdto

import (
	"time"

	"github.com/google/uuid"
)

type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type PresignAttachmentRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

type PresignAttachmentResponse struct {
	UploadURL string `json:"upload_url"`
	ObjectKey string `json:"object_key"`
}

type CreateGroupRequest struct {
	Name        string      `json:"name" binding:"required"`
	Description *string     `json:"description,omitempty"`
	MemberIDs   []uuid.UUID `json:"member_ids,omitempty"`
}

type AddGroupMemberRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

type PresenceEntry struct {
	UserID   uuid.UUID  `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
