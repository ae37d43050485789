package registry

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingListener struct {
	events []string
}

func (l *recordingListener) PresenceChanged(userID uuid.UUID, online bool) {
	l.events = append(l.events, fmt.Sprintf("%s:%t", userID, online))
}

func TestRegisterUnregisterPresenceFlips(t *testing.T) {
	listener := &recordingListener{}
	r := New(zap.NewNop())
	r.AddListener(listener)

	userID := uuid.New()
	assert.False(t, r.IsOnline(userID))

	c1 := r.Register(userID)
	require.True(t, r.IsOnline(userID))
	assert.Equal(t, []string{fmt.Sprintf("%s:true", userID)}, listener.events)

	// A second device must not re-announce online.
	c2 := r.Register(userID)
	assert.Len(t, listener.events, 1)
	assert.Len(t, r.Connections(userID), 2)

	// Dropping one device keeps the identity online.
	r.Unregister(c1)
	assert.True(t, r.IsOnline(userID))
	assert.Len(t, listener.events, 1)

	r.Unregister(c2)
	assert.False(t, r.IsOnline(userID))
	require.Len(t, listener.events, 2)
	assert.Equal(t, fmt.Sprintf("%s:false", userID), listener.events[1])
}

func TestUnregisterIdempotent(t *testing.T) {
	listener := &recordingListener{}
	r := New(zap.NewNop())
	r.AddListener(listener)

	c := r.Register(uuid.New())
	r.Unregister(c)
	r.Unregister(c)
	assert.Len(t, listener.events, 2)
}

func TestBroadcastDeliversToAllConnections(t *testing.T) {
	r := New(zap.NewNop())
	userID := uuid.New()

	c1 := r.Register(userID)
	c2 := r.Register(userID)

	delivered := r.Broadcast(userID, []byte("hello"))
	assert.Equal(t, 2, delivered)
	assert.Equal(t, []byte("hello"), <-c1.Outbound())
	assert.Equal(t, []byte("hello"), <-c2.Outbound())
}

func TestBroadcastToOfflineUserDeliversNothing(t *testing.T) {
	r := New(zap.NewNop())
	assert.Equal(t, 0, r.Broadcast(uuid.New(), []byte("x")))
}

func TestBroadcastExceptSkipsOriginatingConnection(t *testing.T) {
	r := New(zap.NewNop())
	userID := uuid.New()

	c1 := r.Register(userID)
	c2 := r.Register(userID)

	delivered := r.BroadcastExcept(userID, c1.ID(), []byte("echo"))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []byte("echo"), <-c2.Outbound())
	select {
	case <-c1.Outbound():
		t.Fatal("originating connection must not receive the echo")
	default:
	}
}

func TestBroadcastConnTargetsSingleConnection(t *testing.T) {
	r := New(zap.NewNop())
	userID := uuid.New()

	c1 := r.Register(userID)
	c2 := r.Register(userID)

	assert.True(t, r.BroadcastConn(userID, c1.ID(), []byte("only")))
	assert.Equal(t, []byte("only"), <-c1.Outbound())
	select {
	case <-c2.Outbound():
		t.Fatal("other connection must not receive the frame")
	default:
	}

	assert.False(t, r.BroadcastConn(userID, "nope", []byte("x")))
}

func TestSaturatedQueueDropsSilently(t *testing.T) {
	r := New(zap.NewNop())
	userID := uuid.New()
	c := r.Register(userID)

	for i := 0; i < sendQueueSize; i++ {
		assert.Equal(t, 1, r.Broadcast(userID, []byte("fill")))
	}
	// Queue full: the frame is dropped, not blocked on.
	assert.Equal(t, 0, r.Broadcast(userID, []byte("overflow")))

	// Draining one slot restores delivery.
	<-c.Outbound()
	assert.Equal(t, 1, r.Broadcast(userID, []byte("again")))
}

func TestDeliveryAfterUnregisterFails(t *testing.T) {
	r := New(zap.NewNop())
	userID := uuid.New()
	c := r.Register(userID)
	r.Unregister(c)

	assert.False(t, c.deliver([]byte("late")))
	assert.Equal(t, 0, r.Broadcast(userID, []byte("late")))
}

func TestPerConnectionFIFO(t *testing.T) {
	r := New(zap.NewNop())
	userID := uuid.New()
	c := r.Register(userID)

	for i := 0; i < 10; i++ {
		r.Broadcast(userID, []byte{byte(i)})
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, []byte{byte(i)}, <-c.Outbound())
	}
}

func TestCloseAll(t *testing.T) {
	r := New(zap.NewNop())
	u1, u2 := uuid.New(), uuid.New()
	c1 := r.Register(u1)
	c2 := r.Register(u2)

	r.CloseAll()
	assert.False(t, r.IsOnline(u1))
	assert.False(t, r.IsOnline(u2))

	select {
	case <-c1.Done():
	default:
		t.Fatal("c1 not closed")
	}
	select {
	case <-c2.Done():
	default:
		t.Fatal("c2 not closed")
	}
}
