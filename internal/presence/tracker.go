package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskchat/internal/protocol"
	"taskchat/internal/registry"
	"taskchat/internal/router"
)

// ContactSource resolves the identities interested in a user's
// presence (conversation partners and group co-members).
type ContactSource interface {
	ContactsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// StatusSink receives presence flips for durable bookkeeping
// (users.is_online, last_seen_at).
type StatusSink interface {
	UpdateOnlineStatus(ctx context.Context, userID uuid.UUID, isOnline bool, lastSeen time.Time) error
}

type transition struct {
	userID uuid.UUID
	online bool
	at     time.Time
}

// Tracker derives presence from registry membership transitions. The
// registry is the single source of presence truth; the tracker only
// observes, fans out, and mirrors. Registry callbacks enqueue and
// return; one worker drains the queue so transitions for an identity
// are processed in arrival order.
type Tracker struct {
	reg      *registry.Registry
	rt       *router.Router
	contacts ContactSource
	sink     StatusSink
	mirror   *Mirror
	log      *zap.Logger

	queue chan transition
}

func NewTracker(reg *registry.Registry, rt *router.Router, contacts ContactSource, sink StatusSink, mirror *Mirror, log *zap.Logger) *Tracker {
	t := &Tracker{
		reg:      reg,
		rt:       rt,
		contacts: contacts,
		sink:     sink,
		mirror:   mirror,
		log:      log,
		queue:    make(chan transition, 1024),
	}
	reg.AddListener(t)
	return t
}

// PresenceChanged implements registry.Listener. Must not block: the
// registry holds the identity bucket lock while calling.
func (t *Tracker) PresenceChanged(userID uuid.UUID, online bool) {
	select {
	case t.queue <- transition{userID: userID, online: online, at: time.Now()}:
	default:
		t.log.Warn("presence queue full, transition dropped",
			zap.String("user_id", userID.String()))
	}
}

// Run drains the transition queue until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr := <-t.queue:
			t.handle(ctx, tr)
		}
	}
}

func (t *Tracker) handle(ctx context.Context, tr transition) {
	frame := protocol.MustEncode(protocol.KindPresenceChanged, protocol.PresenceChangedPayload{
		UserID:   tr.userID,
		IsOnline: tr.online,
	})

	contacts, err := t.contacts.ContactsOf(ctx, tr.userID)
	if err != nil {
		t.log.Error("presence contact lookup failed",
			zap.String("user_id", tr.userID.String()), zap.Error(err))
	} else {
		t.rt.Fanout(contacts, frame)
	}

	if t.sink != nil {
		if err := t.sink.UpdateOnlineStatus(ctx, tr.userID, tr.online, tr.at); err != nil {
			t.log.Error("presence status persist failed",
				zap.String("user_id", tr.userID.String()), zap.Error(err))
		}
	}

	if t.mirror != nil {
		if err := t.mirror.Set(ctx, tr.userID, tr.online, tr.at); err != nil {
			t.log.Warn("presence mirror update failed",
				zap.String("user_id", tr.userID.String()), zap.Error(err))
		}
	}
}

// Snapshot answers "who is online" for a set of identities straight
// from registry truth, never from the mirror.
func (t *Tracker) Snapshot(userIDs []uuid.UUID) map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		out[id] = t.reg.IsOnline(id)
	}
	return out
}
