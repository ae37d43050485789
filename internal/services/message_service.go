package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskchat/internal/domain/message"
	"taskchat/internal/protocol"
	"taskchat/internal/registry"
	"taskchat/internal/repository"
	"taskchat/internal/router"
	"taskchat/pkg/apperrors"
)

const (
	maxMessageLength       = 4096
	undeliveredReplayLimit = 200
)

// MessageNotifier is the slice of the dispatcher the message flow
// needs. Split out so tests can fake it.
type MessageNotifier interface {
	MessageReceived(ctx context.Context, recipientID, senderID, messageID uuid.UUID, groupName string)
}

// MessageService persists chat messages and hands them to the router.
// Persist happens before fan-out: a crash between the two loses the
// push, never the message, and reconnect replay covers the gap.
type MessageService struct {
	messages repository.MessageRepository
	groups   repository.GroupRepository
	rt       *router.Router
	reg      *registry.Registry
	notifier MessageNotifier
	log      *zap.Logger
}

func NewMessageService(messages repository.MessageRepository, groups repository.GroupRepository, rt *router.Router, reg *registry.Registry, notifier MessageNotifier, log *zap.Logger) *MessageService {
	return &MessageService{
		messages: messages,
		groups:   groups,
		rt:       rt,
		reg:      reg,
		notifier: notifier,
		log:      log,
	}
}

// Send validates, persists and fans out an inbound chat message.
// Recipients without a live connection get a notification instead of
// a socket frame; they pick the message up on reconnect.
func (s *MessageService) Send(ctx context.Context, senderID uuid.UUID, senderConnID string, p *protocol.SendMessagePayload) (*message.Message, error) {
	content := strings.TrimSpace(p.Content)
	if content == "" && p.ImageURL == nil {
		return nil, apperrors.ErrInvalidInput
	}
	if len(content) > maxMessageLength {
		return nil, apperrors.ErrInvalidInput
	}
	if err := p.Target.Validate(); err != nil {
		return nil, err
	}

	var m *message.Message
	var groupName string
	if p.Target.IsGroup() {
		g, err := s.groups.GetByID(ctx, *p.Target.GroupID)
		if err != nil {
			return nil, err
		}
		member, err := s.groups.IsMember(ctx, g.ID, senderID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, apperrors.ErrForbidden
		}
		groupName = g.Name
		m = message.NewGroup(senderID, g.ID, content, p.ImageURL)
	} else {
		if *p.Target.ReceiverID == senderID {
			return nil, apperrors.ErrInvalidInput
		}
		m = message.NewDirect(senderID, *p.Target.ReceiverID, content, p.ImageURL)
	}

	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}

	live, err := s.rt.RouteMessage(ctx, m, senderConnID)
	if err != nil {
		return nil, err
	}
	s.markDelivered(ctx, m.ID, live)

	if s.notifier != nil {
		delivered := make(map[uuid.UUID]bool, len(live))
		for _, id := range live {
			delivered[id] = true
		}
		all, err := s.rt.Resolve(ctx, senderID, p.Target, false)
		if err == nil {
			for _, id := range all {
				if !delivered[id] {
					s.notifier.MessageReceived(ctx, id, senderID, m.ID, groupName)
				}
			}
		}
	}
	return m, nil
}

// markDelivered writes a receipt row per recipient whose live
// connection took the message; UndeliveredFor keys replay off these
// rows, so a miss here means a duplicate push, never a lost message.
func (s *MessageService) markDelivered(ctx context.Context, messageID uuid.UUID, recipients []uuid.UUID) {
	now := time.Now()
	for _, id := range recipients {
		err := s.messages.UpsertReceipt(ctx, &message.Receipt{
			MessageID: messageID,
			UserID:    id,
			Status:    message.ReceiptDelivered,
			UpdatedAt: now,
		})
		if err != nil {
			s.log.Warn("delivery receipt write failed",
				zap.String("message_id", messageID.String()),
				zap.String("user_id", id.String()),
				zap.Error(err))
		}
	}
}

// MarkRead records that the reader saw the message and tells the
// sender. Only the addressed recipient of a direct message, or a
// current member of the group, may mark it.
func (s *MessageService) MarkRead(ctx context.Context, readerID, messageID uuid.UUID) error {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID == readerID {
		return apperrors.ErrInvalidInput
	}
	if m.GroupID != nil {
		member, err := s.groups.IsMember(ctx, *m.GroupID, readerID)
		if err != nil {
			return err
		}
		if !member {
			return apperrors.ErrForbidden
		}
	} else if m.ReceiverID == nil || *m.ReceiverID != readerID {
		return apperrors.ErrForbidden
	}
	if err := s.messages.MarkRead(ctx, messageID, readerID); err != nil {
		return err
	}
	s.rt.RouteRead(m.SenderID, messageID, readerID)
	return nil
}

// Edit replaces the content of the sender's own message and re-fans
// the updated body so live clients can upsert it in place.
func (s *MessageService) Edit(ctx context.Context, actorID, messageID uuid.UUID, content string) (*message.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > maxMessageLength {
		return nil, apperrors.ErrInvalidInput
	}
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != actorID {
		return nil, apperrors.ErrForbidden
	}
	if err := s.messages.Edit(ctx, messageID, actorID, content); err != nil {
		return nil, err
	}
	m.Content = content
	target := protocol.Target{ReceiverID: m.ReceiverID, GroupID: m.GroupID}
	frame := protocol.MustEncode(protocol.KindMessageReceived, protocol.ChatMessagePayload{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		GroupID:    m.GroupID,
		Content:    m.Content,
		ImageURL:   m.ImageURL,
		CreatedAt:  m.CreatedAt,
	})
	if _, err := s.rt.Route(ctx, m.SenderID, target, frame); err != nil {
		s.log.Warn("edit fan-out failed", zap.String("message_id", messageID.String()), zap.Error(err))
	}
	return &m, nil
}

// Delete soft-deletes the sender's own message.
func (s *MessageService) Delete(ctx context.Context, actorID, messageID uuid.UUID) error {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != actorID {
		return apperrors.ErrForbidden
	}
	return s.messages.SoftDelete(ctx, messageID, actorID)
}

// FlushUndelivered replays messages that arrived while the user was
// offline to one freshly registered connection.
func (s *MessageService) FlushUndelivered(ctx context.Context, userID uuid.UUID, conn *registry.Conn) {
	pending, err := s.messages.UndeliveredFor(ctx, userID, undeliveredReplayLimit)
	if err != nil {
		s.log.Warn("undelivered replay failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	for i := range pending {
		m := &pending[i]
		frame := protocol.MustEncode(protocol.KindMessageReceived, protocol.ChatMessagePayload{
			ID:         m.ID,
			SenderID:   m.SenderID,
			ReceiverID: m.ReceiverID,
			GroupID:    m.GroupID,
			Content:    m.Content,
			ImageURL:   m.ImageURL,
			CreatedAt:  m.CreatedAt,
		})
		if !s.reg.BroadcastConn(userID, conn.ID(), frame) {
			return
		}
		s.markDelivered(ctx, m.ID, []uuid.UUID{userID})
	}
}
