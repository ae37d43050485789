package router

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskchat/internal/domain/message"
	"taskchat/internal/protocol"
	"taskchat/internal/registry"
)

// GroupResolver resolves a group id to its current member list. Backed
// by the group membership store.
type GroupResolver interface {
	MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
}

// Router resolves conversation targets to recipient identities and
// fans envelopes out over the connection registry.
//
// Ordering: each connection's inbound pump is serial and each outbound
// queue is FIFO, so envelopes from one sender reach a given recipient
// in send order. No ordering is promised across senders.
type Router struct {
	reg    *registry.Registry
	groups GroupResolver
	log    *zap.Logger

	// EchoReceipts mirrors delivery receipts to the sender's other
	// devices. Default off.
	EchoReceipts bool
}

func New(reg *registry.Registry, groups GroupResolver, log *zap.Logger) *Router {
	return &Router{reg: reg, groups: groups, log: log}
}

// Resolve expands a target into recipient identities. Direct targets
// resolve to one identity; group targets resolve to the current member
// list minus the sender, unless echoSender is set for
// delivery-confirmation semantics.
func (rt *Router) Resolve(ctx context.Context, senderID uuid.UUID, target protocol.Target, echoSender bool) ([]uuid.UUID, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if !target.IsGroup() {
		return []uuid.UUID{*target.ReceiverID}, nil
	}

	members, err := rt.groups.MemberIDs(ctx, *target.GroupID)
	if err != nil {
		return nil, err
	}
	out := members[:0]
	for _, id := range members {
		if id == senderID && !echoSender {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Route delivers a frame to every resolved recipient and reports which
// of them accepted it on at least one live connection. Offline
// recipients are skipped; that is a normal outcome, not an error.
func (rt *Router) Route(ctx context.Context, senderID uuid.UUID, target protocol.Target, frame []byte) ([]uuid.UUID, error) {
	recipients, err := rt.Resolve(ctx, senderID, target, false)
	if err != nil {
		return nil, err
	}

	var live []uuid.UUID
	for _, id := range recipients {
		if rt.reg.Broadcast(id, frame) > 0 {
			live = append(live, id)
		}
	}
	return live, nil
}

// Fanout delivers a frame to an explicit recipient set. Used for
// presence updates and server-originated task events.
func (rt *Router) Fanout(userIDs []uuid.UUID, frame []byte) int {
	reached := 0
	for _, id := range userIDs {
		if rt.reg.Broadcast(id, frame) > 0 {
			reached++
		}
	}
	return reached
}

// Unicast delivers a frame to every live connection of one identity.
func (rt *Router) Unicast(userID uuid.UUID, frame []byte) int {
	return rt.reg.Broadcast(userID, frame)
}

// RouteMessage fans a persisted chat message out to its audience and
// routes delivery receipts back to the sender for each recipient that
// took it live. senderConnID names the device that sent the message.
func (rt *Router) RouteMessage(ctx context.Context, m *message.Message, senderConnID string) ([]uuid.UUID, error) {
	frame := protocol.MustEncode(protocol.KindMessageReceived, protocol.ChatMessagePayload{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		GroupID:    m.GroupID,
		Content:    m.Content,
		ImageURL:   m.ImageURL,
		CreatedAt:  m.CreatedAt,
	})

	target := protocol.Target{ReceiverID: m.ReceiverID, GroupID: m.GroupID}
	live, err := rt.Route(ctx, m.SenderID, target, frame)
	if err != nil {
		return nil, err
	}

	for _, recipientID := range live {
		receipt := protocol.MessageDeliveredPayload{MessageID: m.ID}
		if m.GroupID != nil {
			id := recipientID
			receipt.RecipientID = &id
		}
		rt.deliverToSender(m.SenderID, senderConnID, protocol.MustEncode(protocol.KindMessageDelivered, receipt))
	}
	return live, nil
}

// RouteTyping forwards a typing indicator: best effort, never
// persisted, never retried, no receipt. A stale indicator for an
// offline target simply evaporates.
func (rt *Router) RouteTyping(ctx context.Context, fromUserID uuid.UUID, p *protocol.TypingPayload) {
	frame := protocol.MustEncode(protocol.KindTyping, protocol.TypingEventPayload{
		FromUserID: fromUserID,
		GroupID:    p.Target.GroupID,
		IsTyping:   p.IsTyping,
	})
	if _, err := rt.Route(ctx, fromUserID, p.Target, frame); err != nil {
		rt.log.Debug("typing fan-out skipped", zap.Error(err))
	}
}

// RouteRead forwards an explicit read receipt to the message sender.
func (rt *Router) RouteRead(senderID uuid.UUID, messageID, readerID uuid.UUID) {
	frame := protocol.MustEncode(protocol.KindMessageRead, protocol.MessageReadPayload{
		MessageID: messageID,
		ReaderID:  readerID,
	})
	rt.reg.Broadcast(senderID, frame)
}

// deliverToSender routes a receipt back to the device that sent the
// message, or to every sender device when multi-device echo is on.
func (rt *Router) deliverToSender(senderID uuid.UUID, senderConnID string, frame []byte) {
	if rt.EchoReceipts || senderConnID == "" {
		rt.reg.Broadcast(senderID, frame)
		return
	}
	rt.reg.BroadcastConn(senderID, senderConnID, frame)
}
