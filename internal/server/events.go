package server

import (
	"context"

	"github.com/google/uuid"

	"taskchat/internal/notify"
	"taskchat/internal/protocol"
	"taskchat/internal/router"
	"taskchat/internal/services"
	"taskchat/internal/transport/httpdto"
	"taskchat/pkg/apperrors"
)

// ServerEvents is the facade the task service talks to. It turns task
// domain events into live frames for connected collaborators plus
// durable notifications through the dispatcher.
type ServerEvents struct {
	rt         *router.Router
	dispatcher *notify.Dispatcher
	auth       *services.AuthService
}

func NewServerEvents(rt *router.Router, dispatcher *notify.Dispatcher, auth *services.AuthService) *ServerEvents {
	return &ServerEvents{rt: rt, dispatcher: dispatcher, auth: auth}
}

// HandleTaskEvent fans a task event to its recipients. The actor is
// excluded; they made the change.
func (e *ServerEvents) HandleTaskEvent(ctx context.Context, req httpdto.TaskEventRequest) error {
	recipients := make([]uuid.UUID, 0, len(req.RecipientIDs))
	for _, id := range req.RecipientIDs {
		if id != req.ActorID {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	var frame []byte
	switch req.Event {
	case httpdto.TaskEventUpdated:
		frame = protocol.MustEncode(protocol.KindTaskUpdated, protocol.TaskUpdatedPayload{
			TaskID:    req.TaskID,
			UpdatedBy: req.ActorID,
			Field:     req.Field,
			OldValue:  req.OldValue,
			NewValue:  req.NewValue,
		})
	case httpdto.TaskEventShared:
		username := ""
		if u, err := e.auth.GetUser(ctx, req.ActorID); err == nil {
			username = u.Username
		}
		frame = protocol.MustEncode(protocol.KindTaskShared, protocol.TaskSharedPayload{
			TaskID:           req.TaskID,
			TaskTitle:        req.TaskTitle,
			SharedBy:         req.ActorID,
			SharedByUsername: username,
		})
	case httpdto.TaskEventMemberRemoved:
		frame = protocol.MustEncode(protocol.KindTaskMemberGone, protocol.TaskMemberRemovedPayload{
			TaskID:    req.TaskID,
			TaskTitle: req.TaskTitle,
			RemovedBy: req.ActorID,
		})
	default:
		return apperrors.ErrInvalidInput
	}

	e.rt.Fanout(recipients, frame)

	for _, id := range recipients {
		switch req.Event {
		case httpdto.TaskEventUpdated:
			e.dispatcher.TaskUpdated(ctx, id, req.ActorID, req.TaskID, req.TaskTitle)
		case httpdto.TaskEventShared:
			e.dispatcher.TaskShared(ctx, id, req.ActorID, req.TaskID, req.TaskTitle)
		case httpdto.TaskEventMemberRemoved:
			e.dispatcher.MemberRemoved(ctx, id, req.ActorID, req.TaskID, req.TaskTitle)
		}
	}
	return nil
}

// HandleReminder delivers a due-date reminder fired by the scheduler.
func (e *ServerEvents) HandleReminder(ctx context.Context, req httpdto.ReminderRequest) {
	e.dispatcher.Reminder(ctx, req.RecipientID, req.TaskID, req.TaskTitle)
}
