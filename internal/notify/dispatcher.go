package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskchat/internal/domain/call"
	"taskchat/internal/domain/notification"
	"taskchat/internal/domain/user"
	"taskchat/internal/protocol"
	"taskchat/internal/registry"
	"taskchat/internal/repository"
	"taskchat/pkg/apperrors"
)

// Dispatcher turns domain events into notifications. Every event is
// persisted first, then gated by the recipient's preferences; gated-in
// events push live over the socket, and fall back to web push when the
// recipient has no connection but registered subscriptions.
type Dispatcher struct {
	reg    *registry.Registry
	users  repository.UserRepository
	notifs repository.NotificationRepository
	push   *WebPushSender
	log    *zap.Logger
}

func NewDispatcher(reg *registry.Registry, users repository.UserRepository, notifs repository.NotificationRepository, push *WebPushSender, log *zap.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, users: users, notifs: notifs, push: push, log: log}
}

// Dispatch persists the notification and attempts delivery. Persist
// failure is the only hard error; delivery is best effort.
func (d *Dispatcher) Dispatch(ctx context.Context, n *notification.Notification) error {
	if err := d.notifs.Create(ctx, n); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	settings, err := d.users.GetSettings(ctx, n.UserID)
	if err != nil {
		d.log.Warn("settings lookup failed, defaulting to deliver",
			zap.String("user_id", n.UserID.String()), zap.Error(err))
		settings = user.DefaultSettings(n.UserID)
	}
	if !allowed(settings, n.Kind) {
		return nil
	}

	frame := protocol.MustEncode(protocol.KindNotificationPush, protocol.NotificationPushPayload{
		ID:        n.ID,
		Kind:      n.Kind,
		Message:   n.Message,
		RefID:     n.RefID,
		CreatedAt: n.CreatedAt,
	})
	if d.reg.Broadcast(n.UserID, frame) > 0 {
		return nil
	}

	if d.push == nil || !d.push.Enabled() || !settings.PushEnabled {
		return nil
	}
	subs, err := d.users.PushSubscriptions(ctx, n.UserID)
	if err != nil || len(subs) == 0 {
		return nil
	}
	d.push.Send(ctx, n.UserID, subs, frame)
	return nil
}

func allowed(s user.Settings, kind string) bool {
	switch kind {
	case notification.KindMessage:
		return s.NotifyMessages
	case notification.KindCall:
		return s.NotifyCalls
	case notification.KindTask, notification.KindReminder:
		return s.NotifyTasks
	default:
		return true
	}
}

// MessageReceived notifies an offline-or-online recipient of a new
// direct or group message.
func (d *Dispatcher) MessageReceived(ctx context.Context, recipientID, senderID, messageID uuid.UUID, groupName string) {
	name := d.username(ctx, senderID)
	text := fmt.Sprintf("%s sent you a message", name)
	if groupName != "" {
		text = fmt.Sprintf("%s sent a message in %s", name, groupName)
	}
	d.fire(ctx, notification.New(recipientID, notification.KindMessage, text, &messageID))
}

// CallMissed implements the call machine's Notifier.
func (d *Dispatcher) CallMissed(ctx context.Context, recipientID, callerID, callID uuid.UUID, kind call.Kind) {
	text := fmt.Sprintf("Missed %s call from %s", kind, d.username(ctx, callerID))
	d.fire(ctx, notification.New(recipientID, notification.KindCall, text, &callID))
}

// TaskShared notifies a user that a task was shared with them.
func (d *Dispatcher) TaskShared(ctx context.Context, recipientID, actorID, taskID uuid.UUID, taskTitle string) {
	text := fmt.Sprintf("%s shared the task %q with you", d.username(ctx, actorID), taskTitle)
	d.fire(ctx, notification.New(recipientID, notification.KindTask, text, &taskID))
}

// TaskUpdated notifies collaborators of a change to a shared task.
func (d *Dispatcher) TaskUpdated(ctx context.Context, recipientID, actorID, taskID uuid.UUID, taskTitle string) {
	text := fmt.Sprintf("%s updated the task %q", d.username(ctx, actorID), taskTitle)
	d.fire(ctx, notification.New(recipientID, notification.KindTask, text, &taskID))
}

// MemberRemoved notifies a user they lost access to a shared task.
func (d *Dispatcher) MemberRemoved(ctx context.Context, recipientID, actorID, taskID uuid.UUID, taskTitle string) {
	text := fmt.Sprintf("%s removed you from the task %q", d.username(ctx, actorID), taskTitle)
	d.fire(ctx, notification.New(recipientID, notification.KindTask, text, &taskID))
}

// Reminder delivers a due-date reminder for a task.
func (d *Dispatcher) Reminder(ctx context.Context, recipientID, taskID uuid.UUID, taskTitle string) {
	text := fmt.Sprintf("Reminder: %q is due soon", taskTitle)
	d.fire(ctx, notification.New(recipientID, notification.KindReminder, text, &taskID))
}

// GroupAdded notifies a user they were added to a chat group.
func (d *Dispatcher) GroupAdded(ctx context.Context, recipientID, actorID, groupID uuid.UUID, groupName string) {
	text := fmt.Sprintf("%s added you to %s", d.username(ctx, actorID), groupName)
	d.fire(ctx, notification.New(recipientID, notification.KindGroup, text, &groupID))
}

// MarkRead marks the notification read. Only the owner may touch it;
// repeating the call is a no-op, not an error.
func (d *Dispatcher) MarkRead(ctx context.Context, actorID, notificationID uuid.UUID) error {
	n, err := d.notifs.GetByID(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.UserID != actorID {
		return apperrors.ErrForbidden
	}
	return d.notifs.MarkRead(ctx, notificationID)
}

// Delete removes the notification, owner only.
func (d *Dispatcher) Delete(ctx context.Context, actorID, notificationID uuid.UUID) error {
	n, err := d.notifs.GetByID(ctx, notificationID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}
	if n.UserID != actorID {
		return apperrors.ErrForbidden
	}
	return d.notifs.Delete(ctx, notificationID)
}

// List returns the recipient's notification inbox, newest first.
func (d *Dispatcher) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]notification.Notification, int64, error) {
	return d.notifs.ListForUser(ctx, userID, limit, offset)
}

func (d *Dispatcher) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	return d.notifs.UnreadCount(ctx, userID)
}

func (d *Dispatcher) fire(ctx context.Context, n *notification.Notification) {
	if err := d.Dispatch(ctx, n); err != nil {
		d.log.Error("notification dispatch failed",
			zap.String("user_id", n.UserID.String()),
			zap.String("kind", n.Kind),
			zap.Error(err))
	}
}

func (d *Dispatcher) username(ctx context.Context, id uuid.UUID) string {
	u, err := d.users.GetByID(ctx, id)
	if err != nil {
		return "Someone"
	}
	return u.Username
}
