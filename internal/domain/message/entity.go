package message

import (
	"time"

	"github.com/google/uuid"
)

// Receipt statuses per recipient.
const (
	ReceiptDelivered = "delivered"
	ReceiptRead      = "read"
)

// Message represents messages table. Exactly one of ReceiverID/GroupID
// is set; construction goes through NewDirect/NewGroup so the invariant
// is not left to callers. Messages are soft-deleted only.
type Message struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	SenderID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	ReceiverID *uuid.UUID `gorm:"type:uuid;index"`
	GroupID    *uuid.UUID `gorm:"type:uuid;index"`
	Content    string     `gorm:"not null"`
	ImageURL   *string
	IsRead     bool      `gorm:"default:false"`
	IsDeleted  bool      `gorm:"default:false"`
	CreatedAt  time.Time `gorm:"default:now()"`
	UpdatedAt  time.Time `gorm:"default:now()"`
}

// Receipt represents message_receipts: per-recipient delivery/read
// markers for group messages.
type Receipt struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Status    string    `gorm:"not null;default:'delivered'"`
	UpdatedAt time.Time `gorm:"default:now()"`
}

func NewDirect(senderID, receiverID uuid.UUID, content string, imageURL *string) *Message {
	now := time.Now()
	return &Message{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: &receiverID,
		Content:    content,
		ImageURL:   imageURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func NewGroup(senderID, groupID uuid.UUID, content string, imageURL *string) *Message {
	now := time.Now()
	return &Message{
		ID:        uuid.New(),
		SenderID:  senderID,
		GroupID:   &groupID,
		Content:   content,
		ImageURL:  imageURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (Message) TableName() string {
	return "messages"
}

func (Receipt) TableName() string {
	return "message_receipts"
}
