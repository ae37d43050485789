package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"taskchat/internal/domain/call"
	"taskchat/internal/domain/group"
	"taskchat/internal/domain/message"
	"taskchat/internal/domain/notification"
	"taskchat/internal/domain/user"
)

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (user.User, error)
	UpdateOnlineStatus(ctx context.Context, userID uuid.UUID, isOnline bool, lastSeen time.Time) error

	// ContactsOf resolves the identities interested in the user's
	// presence: direct-message partners plus group co-members.
	ContactsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	GetSettings(ctx context.Context, userID uuid.UUID) (user.Settings, error)

	PushSubscriptions(ctx context.Context, userID uuid.UUID) ([]user.PushSubscription, error)
	AddPushSubscription(ctx context.Context, sub *user.PushSubscription) error
	RemovePushSubscription(ctx context.Context, endpoint string) error
}

type GroupRepository interface {
	Create(ctx context.Context, g *group.Group) error
	GetByID(ctx context.Context, id uuid.UUID) (group.Group, error)

	MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	AddMember(ctx context.Context, m *group.Member) error
	RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error
}

type MessageRepository interface {
	Create(ctx context.Context, m *message.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	Edit(ctx context.Context, id, senderID uuid.UUID, content string) error
	SoftDelete(ctx context.Context, id, senderID uuid.UUID) error
	MarkRead(ctx context.Context, id, readerID uuid.UUID) error

	// UndeliveredFor supports pull-on-reconnect for offline recipients.
	UndeliveredFor(ctx context.Context, userID uuid.UUID, limit int) ([]message.Message, error)

	UpsertReceipt(ctx context.Context, r *message.Receipt) error
}

type CallRepository interface {
	Create(ctx context.Context, s *call.Session) error
	Update(ctx context.Context, s *call.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (call.Session, error)

	AddParticipant(ctx context.Context, p *call.Participant) error
	UpdateParticipant(ctx context.Context, p *call.Participant) error
	GetParticipants(ctx context.Context, callID uuid.UUID) ([]call.Participant, error)

	UserCallHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]call.Session, int64, error)
	ActiveCalls(ctx context.Context, userID uuid.UUID) ([]call.Session, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *notification.Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (notification.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]notification.Notification, int64, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error)
}
