package calls

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskchat/internal/domain/call"
	"taskchat/internal/protocol"
	"taskchat/internal/registry"
	"taskchat/internal/repository"
	"taskchat/internal/router"
	"taskchat/pkg/apperrors"
)

// Notifier receives call outcomes that warrant a durable notification
// (missed calls). Implemented by the notification dispatcher.
type Notifier interface {
	CallMissed(ctx context.Context, recipientID, callerID, callID uuid.UUID, kind call.Kind)
}

// session is the live state of one non-terminal call. Its mutex is the
// single-writer discipline for that call id: concurrent join/leave on
// the same call serialize here, different calls proceed independently.
type session struct {
	mu           sync.Mutex
	s            *call.Session
	participants map[uuid.UUID]*call.Participant
	ringTimer    *time.Timer
}

func (se *session) roster() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(se.participants))
	for id := range se.participants {
		ids = append(ids, id)
	}
	return ids
}

func (se *session) joinedCount() int {
	n := 0
	for _, p := range se.participants {
		if p.Status == call.ParticipantJoined {
			n++
		}
	}
	return n
}

func (se *session) ringingCount() int {
	n := 0
	for _, p := range se.participants {
		if p.Status == call.ParticipantRinging {
			n++
		}
	}
	return n
}

// Machine owns the call lifecycle for 1:1 and group calls. Sessions in
// live memory are authoritative while non-terminal; every applied
// transition is persisted and fanned out as call_state_changed.
type Machine struct {
	reg      *registry.Registry
	rt       *router.Router
	repo     repository.CallRepository
	groups   router.GroupResolver
	notifier Notifier
	log      *zap.Logger

	ringTimeout time.Duration

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	byUser   map[uuid.UUID]uuid.UUID // active (non-terminal) call per user

	disconnects chan uuid.UUID
}

func NewMachine(reg *registry.Registry, rt *router.Router, repo repository.CallRepository, groups router.GroupResolver, notifier Notifier, ringTimeout time.Duration, log *zap.Logger) *Machine {
	m := &Machine{
		reg:         reg,
		rt:          rt,
		repo:        repo,
		groups:      groups,
		notifier:    notifier,
		log:         log,
		ringTimeout: ringTimeout,
		sessions:    make(map[uuid.UUID]*session),
		byUser:      make(map[uuid.UUID]uuid.UUID),
		disconnects: make(chan uuid.UUID, 256),
	}
	reg.AddListener(m)
	return m
}

// PresenceChanged implements registry.Listener. A user going fully
// offline cascades an implicit leave on their active call. Must not
// block; the cascade runs on the machine's worker.
func (m *Machine) PresenceChanged(userID uuid.UUID, online bool) {
	if online {
		return
	}
	select {
	case m.disconnects <- userID:
	default:
		m.log.Warn("disconnect queue full, cascade dropped",
			zap.String("user_id", userID.String()))
	}
}

// Run drains the disconnect queue until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case userID := <-m.disconnects:
			m.HandleDisconnect(ctx, userID)
		}
	}
}

// ActiveCallFor reports the user's current non-terminal call, if any.
func (m *Machine) ActiveCallFor(userID uuid.UUID) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byUser[userID]
	return id, ok
}

func (m *Machine) lookup(callID uuid.UUID) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[callID]
}

// Invite starts a call. The caller auto-joins; invitees get ringing
// participant rows and a call_state_changed push. A caller or 1:1
// callee already in a non-terminal call fails with ErrCallConflict.
// A call no live invitee can receive goes straight to missed.
func (m *Machine) Invite(ctx context.Context, callerID uuid.UUID, target protocol.Target, kind call.Kind) (*call.Session, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if !target.IsGroup() && *target.ReceiverID == callerID {
		return nil, apperrors.ErrInvalidInput
	}

	var invitees []uuid.UUID
	if target.IsGroup() {
		members, err := m.groups.MemberIDs(ctx, *target.GroupID)
		if err != nil {
			return nil, err
		}
		for _, id := range members {
			if id != callerID {
				invitees = append(invitees, id)
			}
		}
		if len(invitees) == 0 {
			return nil, apperrors.ErrInvalidInput
		}
	} else {
		invitees = []uuid.UUID{*target.ReceiverID}
	}

	var s *call.Session
	if target.IsGroup() {
		s = call.NewGroup(callerID, *target.GroupID, kind)
	} else {
		s = call.NewDirect(callerID, *target.ReceiverID, kind)
	}

	// Reserve roster slots. Busy group members are skipped; a busy 1:1
	// callee rejects the whole invite.
	m.mu.Lock()
	if _, busy := m.byUser[callerID]; busy {
		m.mu.Unlock()
		return nil, apperrors.ErrCallConflict
	}
	reachable := invitees[:0]
	for _, id := range invitees {
		if _, busy := m.byUser[id]; busy {
			if !target.IsGroup() {
				m.mu.Unlock()
				return nil, apperrors.ErrCallConflict
			}
			continue
		}
		reachable = append(reachable, id)
	}
	invitees = reachable
	if len(invitees) == 0 {
		m.mu.Unlock()
		return nil, apperrors.ErrCallConflict
	}

	now := time.Now()
	se := &session{
		s:            s,
		participants: make(map[uuid.UUID]*call.Participant, len(invitees)+1),
	}
	se.participants[callerID] = &call.Participant{
		CallID:   s.ID,
		UserID:   callerID,
		Role:     call.RoleCaller,
		Status:   call.ParticipantJoined,
		JoinedAt: &now,
	}
	for _, id := range invitees {
		se.participants[id] = &call.Participant{
			CallID: s.ID,
			UserID: id,
			Role:   call.RoleParticipant,
			Status: call.ParticipantRinging,
		}
	}
	m.sessions[s.ID] = se
	m.byUser[callerID] = s.ID
	for _, id := range invitees {
		m.byUser[id] = s.ID
	}
	m.mu.Unlock()

	se.mu.Lock()
	defer se.mu.Unlock()

	if err := m.persistNew(ctx, se); err != nil {
		m.evict(se)
		return nil, err
	}

	// Ring the invitees. Nobody reachable means the call is missed
	// before it ever rings.
	frame := m.stateFrame(se)
	delivered := m.rt.Fanout(invitees, frame)
	if delivered == 0 {
		m.finishLocked(ctx, se, call.StatusMissed, time.Now())
		for _, id := range invitees {
			m.notifyMissed(ctx, id, callerID, s.ID, kind)
		}
		out := *se.s
		return &out, nil
	}

	if _, err := m.transitionLocked(ctx, se, call.StatusRinging); err != nil {
		return nil, err
	}
	se.ringTimer = time.AfterFunc(m.ringTimeout, func() {
		m.onRingTimeout(context.Background(), s.ID)
	})
	m.broadcastState(se)

	out := *se.s
	return &out, nil
}

// Accept transitions the call to active on the first accept; later
// accepts on an already-active group call just join.
func (m *Machine) Accept(ctx context.Context, userID, callID uuid.UUID) (*call.Session, error) {
	se := m.lookup(callID)
	if se == nil {
		return nil, m.terminalOutcome(ctx, callID)
	}

	se.mu.Lock()
	defer se.mu.Unlock()

	p := se.participants[userID]
	if p == nil || p.Status != call.ParticipantRinging {
		return nil, apperrors.ErrInvalidCallTransition
	}

	switch se.s.Status {
	case call.StatusRinging:
		if _, err := m.transitionLocked(ctx, se, call.StatusActive); err != nil {
			return nil, err
		}
		now := time.Now()
		se.s.StartedAt = &now
		se.stopRingTimer()
		if err := m.repo.Update(ctx, se.s); err != nil {
			m.log.Error("call persist failed", zap.String("call_id", callID.String()), zap.Error(err))
		}
	case call.StatusActive:
		// Late accept on a group call already in progress.
	default:
		return nil, apperrors.ErrInvalidCallTransition
	}

	now := time.Now()
	p.Status = call.ParticipantJoined
	p.JoinedAt = &now
	m.persistParticipant(ctx, p)
	m.broadcastState(se)

	out := *se.s
	return &out, nil
}

// Reject declines a ringing invite. When every invitee has declined a
// still-ringing call, the call itself is rejected.
func (m *Machine) Reject(ctx context.Context, userID, callID uuid.UUID) (*call.Session, error) {
	se := m.lookup(callID)
	if se == nil {
		return nil, m.terminalOutcome(ctx, callID)
	}

	se.mu.Lock()
	defer se.mu.Unlock()

	p := se.participants[userID]
	if p == nil || p.Status != call.ParticipantRinging {
		return nil, apperrors.ErrInvalidCallTransition
	}

	p.Status = call.ParticipantRejected
	m.persistParticipant(ctx, p)
	m.release(userID)

	if se.s.Status == call.StatusRinging && se.ringingCount() == 0 {
		m.finishLocked(ctx, se, call.StatusRejected, time.Now())
	} else {
		m.broadcastState(se)
	}

	out := *se.s
	return &out, nil
}

// Leave removes a joined participant. Group calls survive while at
// least two participants remain; otherwise the call ends.
func (m *Machine) Leave(ctx context.Context, userID, callID uuid.UUID) (*call.Session, error) {
	se := m.lookup(callID)
	if se == nil {
		return nil, m.terminalOutcome(ctx, callID)
	}

	se.mu.Lock()
	defer se.mu.Unlock()
	return m.leaveLocked(ctx, se, userID)
}

func (m *Machine) leaveLocked(ctx context.Context, se *session, userID uuid.UUID) (*call.Session, error) {
	p := se.participants[userID]
	if p == nil || p.Status != call.ParticipantJoined {
		return nil, apperrors.ErrInvalidCallTransition
	}
	if se.s.Status != call.StatusActive {
		// The caller backing out of their own unanswered call ends it.
		if userID == se.s.CallerID && !se.s.Status.Terminal() {
			return m.endLocked(ctx, se, time.Now())
		}
		return nil, apperrors.ErrInvalidCallTransition
	}

	now := time.Now()
	p.Status = call.ParticipantLeft
	p.LeftAt = &now
	m.persistParticipant(ctx, p)
	m.release(userID)

	if se.joinedCount() < 2 {
		return m.endLocked(ctx, se, now)
	}
	m.broadcastState(se)
	out := *se.s
	return &out, nil
}

// End terminates the call explicitly. Any roster member may end it.
func (m *Machine) End(ctx context.Context, userID, callID uuid.UUID) (*call.Session, error) {
	se := m.lookup(callID)
	if se == nil {
		return nil, m.terminalOutcome(ctx, callID)
	}

	se.mu.Lock()
	defer se.mu.Unlock()

	if se.participants[userID] == nil {
		return nil, apperrors.ErrForbidden
	}
	if se.s.Status.Terminal() {
		return nil, apperrors.ErrInvalidCallTransition
	}
	return m.endLocked(ctx, se, time.Now())
}

// InviteParticipant adds an invitee to an active group call. The call
// status does not reset; the newcomer rings while the call continues.
func (m *Machine) InviteParticipant(ctx context.Context, inviterID, callID, inviteeID uuid.UUID) error {
	se := m.lookup(callID)
	if se == nil {
		return m.terminalOutcome(ctx, callID)
	}

	se.mu.Lock()
	defer se.mu.Unlock()

	if !se.s.IsGroup() {
		// 1:1 rosters are fixed at initiation.
		return apperrors.ErrInvalidCallTransition
	}
	if se.s.Status != call.StatusActive {
		return apperrors.ErrInvalidCallTransition
	}
	inviter := se.participants[inviterID]
	if inviter == nil || inviter.Status != call.ParticipantJoined {
		return apperrors.ErrForbidden
	}
	if se.participants[inviteeID] != nil {
		return apperrors.ErrAlreadyExists
	}

	m.mu.Lock()
	if _, busy := m.byUser[inviteeID]; busy {
		m.mu.Unlock()
		return apperrors.ErrCallConflict
	}
	m.byUser[inviteeID] = callID
	m.mu.Unlock()

	p := &call.Participant{
		CallID: callID,
		UserID: inviteeID,
		Role:   call.RoleParticipant,
		Status: call.ParticipantRinging,
	}
	se.participants[inviteeID] = p
	if err := m.repo.AddParticipant(ctx, p); err != nil {
		m.log.Error("participant persist failed", zap.String("call_id", callID.String()), zap.Error(err))
	}
	m.rt.Fanout([]uuid.UUID{inviteeID}, m.stateFrame(se))
	m.broadcastState(se)
	return nil
}

// HandleDisconnect cascades a full disconnect: the user's non-terminal
// call gets an implicit leave (or unreachable handling while ringing).
// Not an error path; a dropped socket mid-call is normal lifecycle.
func (m *Machine) HandleDisconnect(ctx context.Context, userID uuid.UUID) {
	m.mu.Lock()
	callID, ok := m.byUser[userID]
	se := m.sessions[callID]
	m.mu.Unlock()
	if !ok || se == nil {
		return
	}

	se.mu.Lock()
	defer se.mu.Unlock()

	p := se.participants[userID]
	if p == nil || se.s.Status.Terminal() {
		return
	}

	switch p.Status {
	case call.ParticipantJoined:
		if _, err := m.leaveLocked(ctx, se, userID); err != nil {
			m.log.Debug("disconnect leave skipped",
				zap.String("call_id", se.s.ID.String()), zap.Error(err))
		}
	case call.ParticipantRinging:
		now := time.Now()
		p.Status = call.ParticipantLeft
		p.LeftAt = &now
		m.persistParticipant(ctx, p)
		m.release(userID)
		if se.s.Status == call.StatusRinging && se.ringingCount() == 0 {
			m.finishLocked(ctx, se, call.StatusMissed, now)
			m.notifyMissed(ctx, userID, se.s.CallerID, se.s.ID, se.s.Kind)
		} else {
			m.broadcastState(se)
		}
	}
}

// Relay forwards WebRTC signaling (offer/answer/ICE) between roster
// members. The SDP/candidate bodies are opaque; media never touches
// this process.
func (m *Machine) Relay(ctx context.Context, fromUserID uuid.UUID, kind protocol.Kind, callID, toUserID uuid.UUID, frame []byte) error {
	se := m.lookup(callID)
	if se == nil {
		return m.terminalOutcome(ctx, callID)
	}

	se.mu.Lock()
	fromOK := se.participants[fromUserID] != nil
	toOK := se.participants[toUserID] != nil
	terminal := se.s.Status.Terminal()
	se.mu.Unlock()

	if terminal {
		return apperrors.ErrInvalidCallTransition
	}
	if !fromOK || !toOK {
		return apperrors.ErrForbidden
	}
	m.rt.Unicast(toUserID, frame)
	return nil
}

// onRingTimeout fires when a ringing call sees no accept inside the
// window. The whole roster that never answered becomes a missed call.
func (m *Machine) onRingTimeout(ctx context.Context, callID uuid.UUID) {
	se := m.lookup(callID)
	if se == nil {
		return
	}

	se.mu.Lock()
	defer se.mu.Unlock()

	if se.s.Status != call.StatusRinging {
		return
	}
	now := time.Now()
	var unreached []uuid.UUID
	for id, p := range se.participants {
		if p.Status == call.ParticipantRinging {
			p.Status = call.ParticipantLeft
			p.LeftAt = &now
			m.persistParticipant(ctx, p)
			unreached = append(unreached, id)
		}
	}
	m.finishLocked(ctx, se, call.StatusMissed, now)
	for _, id := range unreached {
		m.notifyMissed(ctx, id, se.s.CallerID, se.s.ID, se.s.Kind)
	}
}

// endLocked applies the explicit-end transition: ended_at set, duration
// computed only if the call ever reached active.
func (m *Machine) endLocked(ctx context.Context, se *session, at time.Time) (*call.Session, error) {
	m.finishLocked(ctx, se, call.StatusEnded, at)
	out := *se.s
	return &out, nil
}

// finishLocked moves a session into a terminal state, persists it,
// broadcasts the final roster and evicts the live session.
func (m *Machine) finishLocked(ctx context.Context, se *session, to call.Status, at time.Time) {
	next, err := se.s.Status.Transition(to)
	if err != nil {
		m.log.Error("terminal transition refused",
			zap.String("call_id", se.s.ID.String()),
			zap.String("from", string(se.s.Status)),
			zap.String("to", string(to)))
		return
	}
	se.s.Status = next
	se.s.EndedAt = &at
	if se.s.StartedAt != nil {
		d := int32(at.Sub(*se.s.StartedAt).Seconds())
		se.s.DurationSeconds = &d
	}
	se.stopRingTimer()

	now := at
	for _, p := range se.participants {
		if p.Status == call.ParticipantJoined || p.Status == call.ParticipantRinging {
			p.Status = call.ParticipantLeft
			p.LeftAt = &now
			m.persistParticipant(ctx, p)
		}
	}

	if err := m.repo.Update(ctx, se.s); err != nil {
		m.log.Error("call persist failed", zap.String("call_id", se.s.ID.String()), zap.Error(err))
	}
	m.broadcastState(se)
	m.evict(se)
}

// transitionLocked applies a non-terminal status move and persists it.
func (m *Machine) transitionLocked(ctx context.Context, se *session, to call.Status) (call.Status, error) {
	next, err := se.s.Status.Transition(to)
	if err != nil {
		return se.s.Status, err
	}
	se.s.Status = next
	if err := m.repo.Update(ctx, se.s); err != nil {
		m.log.Error("call persist failed", zap.String("call_id", se.s.ID.String()), zap.Error(err))
	}
	return next, nil
}

// terminalOutcome distinguishes "call over" from "no such call" for
// events arriving after eviction. Either way the operation is refused
// as a typed outcome, never a crash.
func (m *Machine) terminalOutcome(ctx context.Context, callID uuid.UUID) error {
	if _, err := m.repo.GetByID(ctx, callID); err != nil {
		return apperrors.ErrNotFound
	}
	return apperrors.ErrInvalidCallTransition
}

func (m *Machine) persistNew(ctx context.Context, se *session) error {
	if err := m.repo.Create(ctx, se.s); err != nil {
		return err
	}
	for _, p := range se.participants {
		if err := m.repo.AddParticipant(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) persistParticipant(ctx context.Context, p *call.Participant) {
	if err := m.repo.UpdateParticipant(ctx, p); err != nil {
		m.log.Error("participant persist failed",
			zap.String("call_id", p.CallID.String()),
			zap.String("user_id", p.UserID.String()),
			zap.Error(err))
	}
}

// evict drops a terminal session from live state and frees every
// roster member's active-call slot.
func (m *Machine) evict(se *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, se.s.ID)
	for id := range se.participants {
		if m.byUser[id] == se.s.ID {
			delete(m.byUser, id)
		}
	}
}

func (m *Machine) release(userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byUser, userID)
}

func (m *Machine) notifyMissed(ctx context.Context, recipientID, callerID, callID uuid.UUID, kind call.Kind) {
	if m.notifier != nil {
		m.notifier.CallMissed(ctx, recipientID, callerID, callID, kind)
	}
}

func (m *Machine) stateFrame(se *session) []byte {
	states := make([]protocol.CallParticipantState, 0, len(se.participants))
	for _, p := range se.participants {
		states = append(states, protocol.CallParticipantState{
			UserID: p.UserID,
			Role:   p.Role,
			Status: string(p.Status),
		})
	}
	return protocol.MustEncode(protocol.KindCallStateChanged, protocol.CallStateChangedPayload{
		CallID:       se.s.ID,
		CallerID:     se.s.CallerID,
		Status:       string(se.s.Status),
		CallKind:     string(se.s.Kind),
		Participants: states,
	})
}

func (m *Machine) broadcastState(se *session) {
	frame := m.stateFrame(se)
	for id := range se.participants {
		m.rt.Unicast(id, frame)
	}
}

func (se *session) stopRingTimer() {
	if se.ringTimer != nil {
		se.ringTimer.Stop()
		se.ringTimer = nil
	}
}
