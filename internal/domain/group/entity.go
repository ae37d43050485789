package group

import (
	"time"

	"github.com/google/uuid"
)

// Member roles. The creator role is assigned once at group creation and
// never transfers; removing the last creator is not a supported operation.
const (
	RoleCreator = "creator"
	RoleMember  = "member"
)

// Group represents groups table
type Group struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	Name        string    `gorm:"not null"`
	Description *string
	CreatorID   uuid.UUID `gorm:"type:uuid;not null"`
	AvatarURL   *string
	CreatedAt   time.Time `gorm:"default:now()"`
	UpdatedAt   time.Time `gorm:"default:now()"`
}

// Member represents group_members
type Member struct {
	GroupID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Role     string    `gorm:"not null;default:'member'"`
	JoinedAt time.Time `gorm:"default:now()"`
}

func (Group) TableName() string {
	return "groups"
}

func (Member) TableName() string {
	return "group_members"
}
