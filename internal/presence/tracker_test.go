package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskchat/internal/protocol"
	"taskchat/internal/registry"
	"taskchat/internal/router"
)

type fakeContacts struct {
	contacts map[uuid.UUID][]uuid.UUID
}

func (f *fakeContacts) ContactsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return f.contacts[userID], nil
}

func (f *fakeContacts) MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

type statusRecord struct {
	userID uuid.UUID
	online bool
}

type fakeSink struct {
	mu      sync.Mutex
	records []statusRecord
}

func (f *fakeSink) UpdateOnlineStatus(ctx context.Context, userID uuid.UUID, isOnline bool, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, statusRecord{userID, isOnline})
	return nil
}

func (f *fakeSink) snapshot() []statusRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]statusRecord, len(f.records))
	copy(out, f.records)
	return out
}

func awaitFrame(t *testing.T, c *registry.Conn) protocol.Envelope {
	t.Helper()
	select {
	case frame := <-c.Outbound():
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return protocol.Envelope{}
	}
}

func TestPresenceFansOutToContacts(t *testing.T) {
	user, contact := uuid.New(), uuid.New()
	src := &fakeContacts{contacts: map[uuid.UUID][]uuid.UUID{user: {contact}}}
	sink := &fakeSink{}

	reg := registry.New(zap.NewNop())
	rt := router.New(reg, src, zap.NewNop())
	tracker := NewTracker(reg, rt, src, sink, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tracker.Run(ctx)

	contactConn := reg.Register(contact)
	// The contact coming online is its own transition; nobody watches it.

	userConn := reg.Register(user)

	env := awaitFrame(t, contactConn)
	assert.Equal(t, protocol.KindPresenceChanged, env.Type)
	var p protocol.PresenceChangedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, user, p.UserID)
	assert.True(t, p.IsOnline)

	reg.Unregister(userConn)
	env = awaitFrame(t, contactConn)
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, user, p.UserID)
	assert.False(t, p.IsOnline)
}

func TestPresencePersistsThroughSink(t *testing.T) {
	user := uuid.New()
	src := &fakeContacts{}
	sink := &fakeSink{}

	reg := registry.New(zap.NewNop())
	rt := router.New(reg, src, zap.NewNop())
	tracker := NewTracker(reg, rt, src, sink, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tracker.Run(ctx)

	conn := reg.Register(user)
	reg.Unregister(conn)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)

	records := sink.snapshot()
	assert.Equal(t, statusRecord{user, true}, records[0])
	assert.Equal(t, statusRecord{user, false}, records[1])
}

func TestMultiDeviceSuppressesIntermediateTransitions(t *testing.T) {
	user := uuid.New()
	src := &fakeContacts{}
	sink := &fakeSink{}

	reg := registry.New(zap.NewNop())
	rt := router.New(reg, src, zap.NewNop())
	tracker := NewTracker(reg, rt, src, sink, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tracker.Run(ctx)

	c1 := reg.Register(user)
	c2 := reg.Register(user)
	reg.Unregister(c1)

	// Still online on the second device: exactly one transition so far.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.snapshot(), 1)

	reg.Unregister(c2)
	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestSnapshotReadsRegistryTruth(t *testing.T) {
	user, other := uuid.New(), uuid.New()
	src := &fakeContacts{}

	reg := registry.New(zap.NewNop())
	rt := router.New(reg, src, zap.NewNop())
	tracker := NewTracker(reg, rt, src, nil, nil, zap.NewNop())

	reg.Register(user)

	snap := tracker.Snapshot([]uuid.UUID{user, other})
	assert.True(t, snap[user])
	assert.False(t, snap[other])
}
