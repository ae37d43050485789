package notification

import (
	"time"

	"github.com/google/uuid"
)

// Notification kinds, used to gate push against user preferences.
const (
	KindMessage  = "message"
	KindCall     = "call"
	KindTask     = "task"
	KindReminder = "reminder"
	KindGroup    = "group"
)

// Notification represents notifications table. Owned by the recipient;
// created by the dispatcher, mutated only by read/delete.
type Notification struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	Kind      string     `gorm:"not null;default:'task'"`
	RefID     *uuid.UUID `gorm:"type:uuid"`
	Message   string     `gorm:"not null"`
	IsRead    bool       `gorm:"default:false"`
	CreatedAt time.Time  `gorm:"default:now()"`
}

func New(userID uuid.UUID, kind, msg string, refID *uuid.UUID) *Notification {
	return &Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      kind,
		RefID:     refID,
		Message:   msg,
		CreatedAt: time.Now(),
	}
}

func (Notification) TableName() string {
	return "notifications"
}
