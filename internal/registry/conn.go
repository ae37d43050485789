package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const sendQueueSize = 256

// Conn is a live connection handle owned by the Registry. The transport
// layer drains Outbound and writes frames to the socket; the Registry
// never touches the socket itself.
type Conn struct {
	id        string
	userID    uuid.UUID
	createdAt time.Time

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(userID uuid.UUID) *Conn {
	return &Conn{
		id:        uuid.New().String(),
		userID:    userID,
		createdAt: time.Now(),
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) UserID() uuid.UUID {
	return c.userID
}

func (c *Conn) CreatedAt() time.Time {
	return c.createdAt
}

// Outbound is the connection's delivery queue, drained by the write pump.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

// Done is closed when the connection is unregistered.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// deliver enqueues a frame without blocking. A full or closed queue
// drops the frame; delivery to other connections is unaffected.
func (c *Conn) deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
