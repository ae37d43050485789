package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"taskchat/internal/domain/call"
	"taskchat/pkg/apperrors"
)

type PostgresCallRepository struct {
	db *gorm.DB
}

func NewCallRepository(db *gorm.DB) CallRepository {
	return &PostgresCallRepository{db: db}
}

func (r *PostgresCallRepository) Create(ctx context.Context, s *call.Session) error {
	res := r.db.WithContext(ctx).Create(s)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return apperrors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresCallRepository) Update(ctx context.Context, s *call.Session) error {
	s.UpdatedAt = time.Now()
	res := r.db.WithContext(ctx).Save(s)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *PostgresCallRepository) GetByID(ctx context.Context, id uuid.UUID) (call.Session, error) {
	var s call.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return call.Session{}, apperrors.ErrNotFound
		}
		return call.Session{}, err
	}
	return s, nil
}

func (r *PostgresCallRepository) AddParticipant(ctx context.Context, p *call.Participant) error {
	res := r.db.WithContext(ctx).Create(p)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return apperrors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresCallRepository) UpdateParticipant(ctx context.Context, p *call.Participant) error {
	res := r.db.WithContext(ctx).
		Model(&call.Participant{}).
		Where("call_id = ? AND user_id = ?", p.CallID, p.UserID).
		Updates(map[string]any{
			"role":      p.Role,
			"status":    p.Status,
			"joined_at": p.JoinedAt,
			"left_at":   p.LeftAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *PostgresCallRepository) GetParticipants(ctx context.Context, callID uuid.UUID) ([]call.Participant, error) {
	var participants []call.Participant
	err := r.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("joined_at ASC NULLS LAST").
		Find(&participants).Error
	return participants, err
}

func (r *PostgresCallRepository) UserCallHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]call.Session, int64, error) {
	var sessions []call.Session
	var total int64

	subQuery := r.db.Model(&call.Participant{}).
		Select("call_id").
		Where("user_id = ?", userID)

	q := r.db.WithContext(ctx).
		Model(&call.Session{}).
		Where("caller_id = ? OR id IN (?)", userID, subQuery)

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&sessions).Error; err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

func (r *PostgresCallRepository) ActiveCalls(ctx context.Context, userID uuid.UUID) ([]call.Session, error) {
	var sessions []call.Session

	subQuery := r.db.Model(&call.Participant{}).
		Select("call_id").
		Where("user_id = ? AND status IN ('ringing', 'joined')", userID)

	err := r.db.WithContext(ctx).
		Where("status IN ('initiating', 'ringing', 'active') AND (caller_id = ? OR id IN (?))", userID, subQuery).
		Find(&sessions).Error
	return sessions, err
}
