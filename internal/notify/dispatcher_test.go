package notify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskchat/internal/domain/call"
	"taskchat/internal/domain/notification"
	"taskchat/internal/domain/user"
	"taskchat/internal/protocol"
	"taskchat/internal/registry"
	"taskchat/pkg/apperrors"
)

type fakeUsers struct {
	users    map[uuid.UUID]user.User
	settings map[uuid.UUID]user.Settings
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		users:    make(map[uuid.UUID]user.User),
		settings: make(map[uuid.UUID]user.Settings),
	}
}

func (f *fakeUsers) GetByID(ctx context.Context, id uuid.UUID) (user.User, error) {
	u, ok := f.users[id]
	if !ok {
		return user.User{}, apperrors.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) UpdateOnlineStatus(ctx context.Context, userID uuid.UUID, isOnline bool, lastSeen time.Time) error {
	return nil
}

func (f *fakeUsers) ContactsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeUsers) GetSettings(ctx context.Context, userID uuid.UUID) (user.Settings, error) {
	if s, ok := f.settings[userID]; ok {
		return s, nil
	}
	return user.DefaultSettings(userID), nil
}

func (f *fakeUsers) PushSubscriptions(ctx context.Context, userID uuid.UUID) ([]user.PushSubscription, error) {
	return nil, nil
}

func (f *fakeUsers) AddPushSubscription(ctx context.Context, sub *user.PushSubscription) error {
	return nil
}

func (f *fakeUsers) RemovePushSubscription(ctx context.Context, endpoint string) error {
	return nil
}

type fakeNotifs struct {
	mu      sync.Mutex
	created []notification.Notification
	read    map[uuid.UUID]bool
}

func newFakeNotifs() *fakeNotifs {
	return &fakeNotifs{read: make(map[uuid.UUID]bool)}
}

func (f *fakeNotifs) Create(ctx context.Context, n *notification.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *n)
	return nil
}

func (f *fakeNotifs) GetByID(ctx context.Context, id uuid.UUID) (notification.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.created {
		if n.ID == id {
			return n, nil
		}
	}
	return notification.Notification{}, apperrors.ErrNotFound
}

func (f *fakeNotifs) MarkRead(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read[id] = true
	return nil
}

func (f *fakeNotifs) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.created {
		if n.ID == id {
			f.created = append(f.created[:i], f.created[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeNotifs) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]notification.Notification, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notification.Notification
	for _, n := range f.created {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeNotifs) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, n := range f.created {
		if n.UserID == userID && !f.read[n.ID] {
			count++
		}
	}
	return count, nil
}

func (f *fakeNotifs) all() []notification.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]notification.Notification, len(f.created))
	copy(out, f.created)
	return out
}

func newTestDispatcher() (*Dispatcher, *fakeUsers, *fakeNotifs, *registry.Registry) {
	users := newFakeUsers()
	notifs := newFakeNotifs()
	reg := registry.New(zap.NewNop())
	d := NewDispatcher(reg, users, notifs, nil, zap.NewNop())
	return d, users, notifs, reg
}

func TestDispatchPersistsAndPushesLive(t *testing.T) {
	d, _, notifs, reg := newTestDispatcher()
	recipient := uuid.New()
	conn := reg.Register(recipient)

	n := notification.New(recipient, notification.KindTask, "task changed", nil)
	require.NoError(t, d.Dispatch(context.Background(), n))

	require.Len(t, notifs.all(), 1)

	select {
	case frame := <-conn.Outbound():
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, protocol.KindNotificationPush, env.Type)
		var p protocol.NotificationPushPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		assert.Equal(t, "task changed", p.Message)
		assert.Equal(t, n.ID, p.ID)
	default:
		t.Fatal("expected a live push")
	}
}

func TestDispatchPersistsForOfflineRecipient(t *testing.T) {
	d, _, notifs, _ := newTestDispatcher()
	recipient := uuid.New()

	n := notification.New(recipient, notification.KindMessage, "hello", nil)
	require.NoError(t, d.Dispatch(context.Background(), n))

	// Persisted for the inbox even though nothing could be pushed.
	assert.Len(t, notifs.all(), 1)
}

func TestPreferenceGateSuppressesPushButKeepsRow(t *testing.T) {
	d, users, notifs, reg := newTestDispatcher()
	recipient := uuid.New()
	users.settings[recipient] = user.Settings{
		UserID:         recipient,
		NotifyMessages: false,
		NotifyCalls:    true,
		NotifyTasks:    true,
	}
	conn := reg.Register(recipient)

	n := notification.New(recipient, notification.KindMessage, "muted", nil)
	require.NoError(t, d.Dispatch(context.Background(), n))

	assert.Len(t, notifs.all(), 1)
	select {
	case <-conn.Outbound():
		t.Fatal("suppressed kind must not push")
	default:
	}
}

func TestCallMissedComposesText(t *testing.T) {
	d, users, notifs, _ := newTestDispatcher()
	caller, recipient := uuid.New(), uuid.New()
	users.users[caller] = user.User{ID: caller, Username: "alice"}

	d.CallMissed(context.Background(), recipient, caller, uuid.New(), call.KindVideo)

	all := notifs.all()
	require.Len(t, all, 1)
	assert.Equal(t, notification.KindCall, all[0].Kind)
	assert.True(t, strings.Contains(all[0].Message, "alice"))
	assert.True(t, strings.Contains(all[0].Message, "video"))
}

func TestMarkReadOwnerOnly(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	owner, stranger := uuid.New(), uuid.New()

	n := notification.New(owner, notification.KindTask, "x", nil)
	require.NoError(t, d.Dispatch(context.Background(), n))

	assert.ErrorIs(t, d.MarkRead(context.Background(), stranger, n.ID), apperrors.ErrForbidden)
	require.NoError(t, d.MarkRead(context.Background(), owner, n.ID))

	// Repeating is a no-op.
	require.NoError(t, d.MarkRead(context.Background(), owner, n.ID))

	count, err := d.UnreadCount(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestDeleteMissingIsNoop(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	assert.NoError(t, d.Delete(context.Background(), uuid.New(), uuid.New()))
}

func TestDeleteOwnerOnly(t *testing.T) {
	d, _, notifs, _ := newTestDispatcher()
	owner, stranger := uuid.New(), uuid.New()

	n := notification.New(owner, notification.KindTask, "x", nil)
	require.NoError(t, d.Dispatch(context.Background(), n))

	assert.ErrorIs(t, d.Delete(context.Background(), stranger, n.ID), apperrors.ErrForbidden)
	require.NoError(t, d.Delete(context.Background(), owner, n.ID))
	assert.Empty(t, notifs.all())
}

func TestUnknownSenderFallsBackToPlaceholder(t *testing.T) {
	d, _, notifs, _ := newTestDispatcher()
	recipient := uuid.New()

	d.MessageReceived(context.Background(), recipient, uuid.New(), uuid.New(), "")

	all := notifs.all()
	require.Len(t, all, 1)
	assert.True(t, strings.HasPrefix(all[0].Message, "Someone"))
}
