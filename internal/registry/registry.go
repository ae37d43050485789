package registry

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const shardCount = 32

// Listener observes per-identity presence transitions. Callbacks fire
// while the identity's bucket is locked so transitions for one identity
// arrive in order; implementations must not block.
type Listener interface {
	PresenceChanged(userID uuid.UUID, online bool)
}

type shard struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]map[string]*Conn
}

// Registry maps authenticated identities to their live connections.
// Multiple connections per identity are expected (multi-device).
// Mutations lock only the identity's shard; lookups and delivery to
// different identities proceed without contention.
type Registry struct {
	shards    [shardCount]*shard
	listeners []Listener
	log       *zap.Logger
}

func New(log *zap.Logger) *Registry {
	r := &Registry{log: log}
	for i := range r.shards {
		r.shards[i] = &shard{conns: make(map[uuid.UUID]map[string]*Conn)}
	}
	return r
}

// AddListener registers a presence listener. Not safe to call once
// connections are being served.
func (r *Registry) AddListener(l Listener) {
	r.listeners = append(r.listeners, l)
}

func (r *Registry) shardFor(userID uuid.UUID) *shard {
	h := fnv.New32a()
	h.Write(userID[:])
	return r.shards[h.Sum32()%shardCount]
}

// Register adds a connection for the identity and returns its handle.
// It never fails; the offline-to-online flip is reported to listeners.
func (r *Registry) Register(userID uuid.UUID) *Conn {
	conn := newConn(userID)
	s := r.shardFor(userID)

	s.mu.Lock()
	wasOffline := len(s.conns[userID]) == 0
	if s.conns[userID] == nil {
		s.conns[userID] = make(map[string]*Conn)
	}
	s.conns[userID][conn.id] = conn
	if wasOffline {
		for _, l := range r.listeners {
			l.PresenceChanged(userID, true)
		}
	}
	s.mu.Unlock()

	r.log.Debug("connection registered",
		zap.String("user_id", userID.String()),
		zap.String("conn_id", conn.id))
	return conn
}

// Unregister removes a connection. Removing an already-removed handle
// is a no-op. The online-to-offline flip on the identity's last
// connection is reported to listeners.
func (r *Registry) Unregister(conn *Conn) {
	s := r.shardFor(conn.userID)

	s.mu.Lock()
	userConns, ok := s.conns[conn.userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, ok := userConns[conn.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(userConns, conn.id)
	nowOffline := len(userConns) == 0
	if nowOffline {
		delete(s.conns, conn.userID)
		for _, l := range r.listeners {
			l.PresenceChanged(conn.userID, false)
		}
	}
	s.mu.Unlock()

	conn.close()
	r.log.Debug("connection unregistered",
		zap.String("user_id", conn.userID.String()),
		zap.String("conn_id", conn.id))
}

// Connections returns the identity's live handles; empty when offline.
func (r *Registry) Connections(userID uuid.UUID) []*Conn {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	userConns := s.conns[userID]
	out := make([]*Conn, 0, len(userConns))
	for _, c := range userConns {
		out = append(out, c)
	}
	return out
}

// IsOnline reports whether the identity has at least one live connection.
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns[userID]) > 0
}

// Broadcast delivers a frame to every live connection of the identity
// and returns how many accepted it. Dead or saturated connections are
// skipped silently.
func (r *Registry) Broadcast(userID uuid.UUID, payload []byte) int {
	return r.BroadcastExcept(userID, "", payload)
}

// BroadcastExcept is Broadcast minus one connection, used when echoing
// to an identity's other devices.
func (r *Registry) BroadcastExcept(userID uuid.UUID, exceptConnID string, payload []byte) int {
	delivered := 0
	for _, conn := range r.Connections(userID) {
		if conn.id == exceptConnID {
			continue
		}
		if conn.deliver(payload) {
			delivered++
		} else {
			r.log.Warn("dropped frame for saturated connection",
				zap.String("user_id", userID.String()),
				zap.String("conn_id", conn.id))
		}
	}
	return delivered
}

// BroadcastConn delivers to one specific connection of the identity.
func (r *Registry) BroadcastConn(userID uuid.UUID, connID string, payload []byte) bool {
	for _, conn := range r.Connections(userID) {
		if conn.id == connID {
			return conn.deliver(payload)
		}
	}
	return false
}

// CloseAll unregisters every connection. Used at shutdown.
func (r *Registry) CloseAll() {
	for _, s := range r.shards {
		s.mu.Lock()
		conns := make([]*Conn, 0)
		for _, userConns := range s.conns {
			for _, c := range userConns {
				conns = append(conns, c)
			}
		}
		s.mu.Unlock()
		for _, c := range conns {
			r.Unregister(c)
		}
	}
}
