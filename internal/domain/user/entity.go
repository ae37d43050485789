package user

import (
	"time"

	"github.com/google/uuid"
)

// User represents users table
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	Username     string    `gorm:"uniqueIndex;not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	AvatarURL    *string
	IsOnline     bool `gorm:"default:false"`
	LastSeenAt   *time.Time
	CreatedAt    time.Time `gorm:"default:now()"`
	UpdatedAt    time.Time `gorm:"default:now()"`
}

// Settings represents per-user notification preferences. Suppressed
// kinds are still persisted for the in-app inbox, just never pushed.
type Settings struct {
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	NotifyMessages bool      `gorm:"default:true"`
	NotifyCalls    bool      `gorm:"default:true"`
	NotifyTasks    bool      `gorm:"default:true"`
	PushEnabled    bool      `gorm:"default:true"`
	UpdatedAt      time.Time `gorm:"default:now()"`
}

// DefaultSettings is what a user has before touching preferences.
func DefaultSettings(userID uuid.UUID) Settings {
	return Settings{
		UserID:         userID,
		NotifyMessages: true,
		NotifyCalls:    true,
		NotifyTasks:    true,
		PushEnabled:    true,
		UpdatedAt:      time.Now(),
	}
}

// PushSubscription represents a Web Push endpoint registered by one of
// the user's browsers.
type PushSubscription struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Endpoint  string    `gorm:"not null;uniqueIndex"`
	P256dh    string    `gorm:"not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"default:now()"`
}

func (User) TableName() string {
	return "users"
}

func (Settings) TableName() string {
	return "user_settings"
}

func (PushSubscription) TableName() string {
	return "push_subscriptions"
}
