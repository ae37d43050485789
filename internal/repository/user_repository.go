package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"taskchat/internal/domain/user"
	"taskchat/pkg/apperrors"
)

type PostgresUserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id uuid.UUID) (user.User, error) {
	var u user.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return user.User{}, apperrors.ErrNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (r *PostgresUserRepository) UpdateOnlineStatus(ctx context.Context, userID uuid.UUID, isOnline bool, lastSeen time.Time) error {
	return r.db.WithContext(ctx).
		Model(&user.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"is_online": isOnline, "last_seen_at": lastSeen}).Error
}

func (r *PostgresUserRepository) ContactsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID

	// Direct-message partners in either direction.
	err := r.db.WithContext(ctx).
		Raw(`SELECT DISTINCT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END
		     FROM messages
		     WHERE receiver_id IS NOT NULL AND (sender_id = ? OR receiver_id = ?)`,
			userID, userID, userID).
		Scan(&ids).Error
	if err != nil {
		return nil, err
	}

	var groupPeers []uuid.UUID
	err = r.db.WithContext(ctx).
		Raw(`SELECT DISTINCT gm2.user_id
		     FROM group_members gm1
		     JOIN group_members gm2 ON gm1.group_id = gm2.group_id
		     WHERE gm1.user_id = ? AND gm2.user_id <> ?`,
			userID, userID).
		Scan(&groupPeers).Error
	if err != nil {
		return nil, err
	}

	seen := map[uuid.UUID]struct{}{userID: {}}
	out := make([]uuid.UUID, 0, len(ids)+len(groupPeers))
	for _, id := range append(ids, groupPeers...) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func (r *PostgresUserRepository) GetSettings(ctx context.Context, userID uuid.UUID) (user.Settings, error) {
	var s user.Settings
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Absent row means defaults: everything on.
			return user.DefaultSettings(userID), nil
		}
		return user.Settings{}, err
	}
	return s, nil
}

func (r *PostgresUserRepository) PushSubscriptions(ctx context.Context, userID uuid.UUID) ([]user.PushSubscription, error) {
	var subs []user.PushSubscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error
	return subs, err
}

func (r *PostgresUserRepository) AddPushSubscription(ctx context.Context, sub *user.PushSubscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).Create(sub)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return apperrors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresUserRepository) RemovePushSubscription(ctx context.Context, endpoint string) error {
	return r.db.WithContext(ctx).
		Where("endpoint = ?", endpoint).
		Delete(&user.PushSubscription{}).Error
}
