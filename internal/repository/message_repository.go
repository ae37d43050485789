package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"taskchat/internal/domain/message"
	"taskchat/pkg/apperrors"
)

type PostgresMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *message.Message) error {
	res := r.db.WithContext(ctx).Create(m)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return apperrors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).Where("id = ? AND is_deleted = false", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, apperrors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

func (r *PostgresMessageRepository) Edit(ctx context.Context, id, senderID uuid.UUID, content string) error {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ? AND sender_id = ? AND is_deleted = false", id, senderID).
		Updates(map[string]any{"content": content, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// SoftDelete flags the row; message rows are never hard-deleted.
func (r *PostgresMessageRepository) SoftDelete(ctx context.Context, id, senderID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ? AND sender_id = ?", id, senderID).
		Updates(map[string]any{"is_deleted": true, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) MarkRead(ctx context.Context, id, readerID uuid.UUID) error {
	// Direct messages keep the is_read flag for cheap unread queries.
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ? AND receiver_id = ?", id, readerID).
		Updates(map[string]any{"is_read": true, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	// The receipt row is the per-recipient authority either way.
	return r.UpsertReceipt(ctx, &message.Receipt{
		MessageID: id,
		UserID:    readerID,
		Status:    message.ReceiptRead,
		UpdatedAt: time.Now(),
	})
}

// UndeliveredFor selects messages addressed to the user, directly or
// through a group they belong to, that have no receipt row yet. A
// receipt in any status means at least one live delivery happened.
func (r *PostgresMessageRepository) UndeliveredFor(ctx context.Context, userID uuid.UUID, limit int) ([]message.Message, error) {
	var msgs []message.Message
	err := r.db.WithContext(ctx).
		Where("is_deleted = false AND sender_id <> ?", userID).
		Where("(receiver_id = ? OR group_id IN (SELECT group_id FROM group_members WHERE user_id = ?))", userID, userID).
		Where("NOT EXISTS (SELECT 1 FROM message_receipts mr WHERE mr.message_id = messages.id AND mr.user_id = ?)", userID).
		Order("created_at ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (r *PostgresMessageRepository) UpsertReceipt(ctx context.Context, receipt *message.Receipt) error {
	return r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", receipt.MessageID, receipt.UserID).
		Assign(map[string]any{"status": receipt.Status, "updated_at": receipt.UpdatedAt}).
		FirstOrCreate(&message.Receipt{MessageID: receipt.MessageID, UserID: receipt.UserID}).Error
}
