package calls

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

	"taskchat/internal/domain/call"
	"taskchat/internal/protocol"
	"taskchat/internal/registry"
	"taskchat/internal/router"
	"taskchat/pkg/apperrors"
)

type fakeCallRepo struct {
	mu           sync.Mutex
	sessions     map[uuid.UUID]call.Session
	participants map[uuid.UUID]map[uuid.UUID]call.Participant
}

func newFakeCallRepo() *fakeCallRepo {
	return &fakeCallRepo{
		sessions:     make(map[uuid.UUID]call.Session),
		participants: make(map[uuid.UUID]map[uuid.UUID]call.Participant),
	}
}

func (f *fakeCallRepo) Create(ctx context.Context, s *call.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = *s
	return nil
}

func (f *fakeCallRepo) Update(ctx context.Context, s *call.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = *s
	return nil
}

func (f *fakeCallRepo) GetByID(ctx context.Context, id uuid.UUID) (call.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return call.Session{}, apperrors.ErrNotFound
	}
	return s, nil
}

func (f *fakeCallRepo) AddParticipant(ctx context.Context, p *call.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.participants[p.CallID] == nil {
		f.participants[p.CallID] = make(map[uuid.UUID]call.Participant)
	}
	f.participants[p.CallID][p.UserID] = *p
	return nil
}

func (f *fakeCallRepo) UpdateParticipant(ctx context.Context, p *call.Participant) error {
	return f.AddParticipant(ctx, p)
}

func (f *fakeCallRepo) GetParticipants(ctx context.Context, callID uuid.UUID) ([]call.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call.Participant, 0, len(f.participants[callID]))
	for _, p := range f.participants[callID] {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeCallRepo) UserCallHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]call.Session, int64, error) {
	return nil, 0, nil
}

func (f *fakeCallRepo) ActiveCalls(ctx context.Context, userID uuid.UUID) ([]call.Session, error) {
	return nil, nil
}

func (f *fakeCallRepo) status(id uuid.UUID) call.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id].Status
}

type fakeGroups struct {
	members map[uuid.UUID][]uuid.UUID
}

func (f *fakeGroups) MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	ids, ok := f.members[groupID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	return out, nil
}

type missedCall struct {
	recipientID uuid.UUID
	callerID    uuid.UUID
	callID      uuid.UUID
}

type fakeNotifier struct {
	mu     sync.Mutex
	missed []missedCall
}

func (f *fakeNotifier) CallMissed(ctx context.Context, recipientID, callerID, callID uuid.UUID, kind call.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missed = append(f.missed, missedCall{recipientID, callerID, callID})
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.missed)
}

type fixture struct {
	reg      *registry.Registry
	repo     *fakeCallRepo
	notifier *fakeNotifier
	machine  *Machine
}

func newFixture(t *testing.T, ringTimeout time.Duration, members map[uuid.UUID][]uuid.UUID) *fixture {
	t.Helper()
	reg := registry.New(zap.NewNop())
	rt := router.New(reg, &fakeGroups{members: members}, zap.NewNop())
	repo := newFakeCallRepo()
	notifier := &fakeNotifier{}
	m := NewMachine(reg, rt, repo, &fakeGroups{members: members}, notifier, ringTimeout, zap.NewNop())
	return &fixture{reg: reg, repo: repo, notifier: notifier, machine: m}
}

func drainAll(c *registry.Conn) []protocol.Envelope {
	var out []protocol.Envelope
	for {
		select {
		case frame := <-c.Outbound():
			var env protocol.Envelope
			if err := json.Unmarshal(frame, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func lastCallState(t *testing.T, c *registry.Conn) protocol.CallStateChangedPayload {
	t.Helper()
	var last *protocol.CallStateChangedPayload
	for _, env := range drainAll(c) {
		if env.Type != protocol.KindCallStateChanged {
			continue
		}
		var p protocol.CallStateChangedPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		last = &p
	}
	require.NotNil(t, last, "expected a call_state_changed frame")
	return *last
}

func TestInviteRingsOnlineCallee(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	caller, callee := uuid.New(), uuid.New()
	f.reg.Register(caller)
	calleeConn := f.reg.Register(callee)

	s, err := f.machine.Invite(context.Background(), caller, protocol.Direct(callee), call.KindAudio)
	require.NoError(t, err)
	assert.Equal(t, call.StatusRinging, s.Status)
	assert.Equal(t, call.StatusRinging, f.repo.status(s.ID))

	state := lastCallState(t, calleeConn)
	assert.Equal(t, s.ID, state.CallID)
	assert.Equal(t, "ringing", state.Status)
	assert.Len(t, state.Participants, 2)

	id, ok := f.machine.ActiveCallFor(caller)
	require.True(t, ok)
	assert.Equal(t, s.ID, id)
	_, ok = f.machine.ActiveCallFor(callee)
	assert.True(t, ok)
}

func TestInviteUnreachableCalleeIsMissed(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	caller, callee := uuid.New(), uuid.New()
	f.reg.Register(caller)

	s, err := f.machine.Invite(context.Background(), caller, protocol.Direct(callee), call.KindVideo)
	require.NoError(t, err)
	assert.Equal(t, call.StatusMissed, s.Status)
	assert.Equal(t, call.StatusMissed, f.repo.status(s.ID))
	assert.Equal(t, 1, f.notifier.count())

	_, ok := f.machine.ActiveCallFor(caller)
	assert.False(t, ok)
}

func TestInviteSelfRejected(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	caller := uuid.New()
	_, err := f.machine.Invite(context.Background(), caller, protocol.Direct(caller), call.KindAudio)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAcceptActivatesCall(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	caller, callee := uuid.New(), uuid.New()
	callerConn := f.reg.Register(caller)
	f.reg.Register(callee)

	s, err := f.machine.Invite(context.Background(), caller, protocol.Direct(callee), call.KindAudio)
	require.NoError(t, err)

	accepted, err := f.machine.Accept(context.Background(), callee, s.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusActive, accepted.Status)
	require.NotNil(t, accepted.StartedAt)

	state := lastCallState(t, callerConn)
	assert.Equal(t, "active", state.Status)
}

func TestRejectTerminatesDirectCall(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	caller, callee := uuid.New(), uuid.New()
	f.reg.Register(caller)
	f.reg.Register(callee)

	s, err := f.machine.Invite(context.Background(), caller, protocol.Direct(callee), call.KindAudio)
	require.NoError(t, err)

	rejected, err := f.machine.Reject(context.Background(), callee, s.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusRejected, rejected.Status)
	assert.Equal(t, call.StatusRejected, f.repo.status(s.ID))

	// Both sides are free for the next call.
	_, ok := f.machine.ActiveCallFor(caller)
	assert.False(t, ok)
	_, ok = f.machine.ActiveCallFor(callee)
	assert.False(t, ok)
}

func TestConcurrentCallConflict(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	caller, callee, third := uuid.New(), uuid.New(), uuid.New()
	f.reg.Register(caller)
	f.reg.Register(callee)
	f.reg.Register(third)

	_, err := f.machine.Invite(context.Background(), caller, protocol.Direct(callee), call.KindAudio)
	require.NoError(t, err)

	// The busy caller cannot start another call.
	_, err = f.machine.Invite(context.Background(), caller, protocol.Direct(third), call.KindAudio)
	assert.ErrorIs(t, err, apperrors.ErrCallConflict)

	// A still-ringing callee counts as busy too.
	_, err = f.machine.Invite(context.Background(), third, protocol.Direct(callee), call.KindAudio)
	assert.ErrorIs(t, err, apperrors.ErrCallConflict)
}

func TestRingTimeoutMarksMissed(t *testing.T) {
	f := newFixture(t, 25*time.Millisecond, nil)
	caller, callee := uuid.New(), uuid.New()
	f.reg.Register(caller)
	f.reg.Register(callee)

	s, err := f.machine.Invite(context.Background(), caller, protocol.Direct(callee), call.KindAudio)
	require.NoError(t, err)
	assert.Equal(t, call.StatusRinging, s.Status)

	require.Eventually(t, func() bool {
		return f.repo.status(s.ID) == call.StatusMissed
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, f.notifier.count())
	_, ok := f.machine.ActiveCallFor(caller)
	assert.False(t, ok)

	// A late accept is refused as a state error, not a crash.
	_, err = f.machine.Accept(context.Background(), callee, s.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCallTransition)
}

func TestAcceptCancelsRingTimer(t *testing.T) {
	f := newFixture(t, 25*time.Millisecond, nil)
	caller, callee := uuid.New(), uuid.New()
	f.reg.Register(caller)
	f.reg.Register(callee)

	s, err := f.machine.Invite(context.Background(), caller, protocol.Direct(callee), call.KindAudio)
	require.NoError(t, err)
	_, err = f.machine.Accept(context.Background(), callee, s.ID)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, call.StatusActive, f.repo.status(s.ID))
	assert.Equal(t, 0, f.notifier.count())
}

func TestLeaveEndsDirectCall(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	caller, callee := uuid.New(), uuid.New()
	f.reg.Register(caller)
	f.reg.Register(callee)

	s, err := f.machine.Invite(context.Background(), caller, protocol.Direct(callee), call.KindAudio)
	require.NoError(t, err)
	_, err = f.machine.Accept(context.Background(), callee, s.ID)
	require.NoError(t, err)

	ended, err := f.machine.Leave(context.Background(), callee, s.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
	require.NotNil(t, ended.DurationSeconds)
}

func TestEndFromRinging(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	caller, callee := uuid.New(), uuid.New()
	f.reg.Register(caller)
	f.reg.Register(callee)

	s, err := f.machine.Invite(context.Background(), caller, protocol.Direct(callee), call.KindAudio)
	require.NoError(t, err)

	ended, err := f.machine.End(context.Background(), caller, s.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusEnded, ended.Status)
	// Never reached active: no duration.
	assert.Nil(t, ended.DurationSeconds)
}

func TestEndByOutsiderForbidden(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	caller, callee := uuid.New(), uuid.New()
	f.reg.Register(caller)
	f.reg.Register(callee)

	s, err := f.machine.Invite(context.Background(), caller, protocol.Direct(callee), call.KindAudio)
	require.NoError(t, err)

	_, err = f.machine.End(context.Background(), uuid.New(), s.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestOperationsOnUnknownCall(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	_, err := f.machine.Accept(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDisconnectCascadesLeave(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	caller, callee := uuid.New(), uuid.New()
	f.reg.Register(caller)
	f.reg.Register(callee)

	s, err := f.machine.Invite(context.Background(), caller, protocol.Direct(callee), call.KindAudio)
	require.NoError(t, err)
	_, err = f.machine.Accept(context.Background(), callee, s.ID)
	require.NoError(t, err)

	f.machine.HandleDisconnect(context.Background(), callee)
	assert.Equal(t, call.StatusEnded, f.repo.status(s.ID))

	_, ok := f.machine.ActiveCallFor(caller)
	assert.False(t, ok)
}

func TestDisconnectWhileRingingIsMissed(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	caller, callee := uuid.New(), uuid.New()
	f.reg.Register(caller)
	f.reg.Register(callee)

	s, err := f.machine.Invite(context.Background(), caller, protocol.Direct(callee), call.KindAudio)
	require.NoError(t, err)

	f.machine.HandleDisconnect(context.Background(), callee)
	assert.Equal(t, call.StatusMissed, f.repo.status(s.ID))
	assert.Equal(t, 1, f.notifier.count())
}

func TestGroupCallLifecycle(t *testing.T) {
	caller, a, b := uuid.New(), uuid.New(), uuid.New()
	groupID := uuid.New()
	f := newFixture(t, time.Minute, map[uuid.UUID][]uuid.UUID{groupID: {caller, a, b}})
	f.reg.Register(caller)
	f.reg.Register(a)
	f.reg.Register(b)

	s, err := f.machine.Invite(context.Background(), caller, protocol.Group(groupID), call.KindVideo)
	require.NoError(t, err)
	assert.Equal(t, call.StatusRinging, s.Status)

	_, err = f.machine.Accept(context.Background(), a, s.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusActive, f.repo.status(s.ID))

	// Late accept joins the already-active call.
	_, err = f.machine.Accept(context.Background(), b, s.ID)
	require.NoError(t, err)

	// Three joined: one leaving keeps the call up.
	_, err = f.machine.Leave(context.Background(), b, s.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusActive, f.repo.status(s.ID))

	// Down to one joined: call ends.
	_, err = f.machine.Leave(context.Background(), a, s.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusEnded, f.repo.status(s.ID))
}

func TestGroupDynamicInvite(t *testing.T) {
	caller, a := uuid.New(), uuid.New()
	groupID := uuid.New()
	f := newFixture(t, time.Minute, map[uuid.UUID][]uuid.UUID{groupID: {caller, a}})
	f.reg.Register(caller)
	f.reg.Register(a)

	s, err := f.machine.Invite(context.Background(), caller, protocol.Group(groupID), call.KindAudio)
	require.NoError(t, err)
	_, err = f.machine.Accept(context.Background(), a, s.ID)
	require.NoError(t, err)

	newcomer := uuid.New()
	newcomerConn := f.reg.Register(newcomer)

	require.NoError(t, f.machine.InviteParticipant(context.Background(), caller, s.ID, newcomer))
	state := lastCallState(t, newcomerConn)
	assert.Equal(t, "active", state.Status)
	assert.Len(t, state.Participants, 3)

	// The newcomer is reserved for this call now.
	_, ok := f.machine.ActiveCallFor(newcomer)
	assert.True(t, ok)

	// Re-inviting an existing roster member is refused.
	assert.ErrorIs(t, f.machine.InviteParticipant(context.Background(), caller, s.ID, a), apperrors.ErrAlreadyExists)
}

func TestDynamicInviteRefusedForDirectCalls(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	caller, callee := uuid.New(), uuid.New()
	f.reg.Register(caller)
	f.reg.Register(callee)

	s, err := f.machine.Invite(context.Background(), caller, protocol.Direct(callee), call.KindAudio)
	require.NoError(t, err)
	_, err = f.machine.Accept(context.Background(), callee, s.ID)
	require.NoError(t, err)

	err = f.machine.InviteParticipant(context.Background(), caller, s.ID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrInvalidCallTransition)
}

func TestRelayChecksRoster(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	caller, callee := uuid.New(), uuid.New()
	f.reg.Register(caller)
	calleeConn := f.reg.Register(callee)

	s, err := f.machine.Invite(context.Background(), caller, protocol.Direct(callee), call.KindAudio)
	require.NoError(t, err)

	frame := protocol.MustEncode(protocol.KindCallOffer, protocol.SDPPayload{
		CallID:     s.ID,
		FromUserID: caller,
		ToUserID:   callee,
		SDP:        "v=0",
	})
	require.NoError(t, f.machine.Relay(context.Background(), caller, protocol.KindCallOffer, s.ID, callee, frame))

	var sawOffer bool
	for _, env := range drainAll(calleeConn) {
		if env.Type == protocol.KindCallOffer {
			sawOffer = true
		}
	}
	assert.True(t, sawOffer)

	// An outsider cannot inject signaling.
	err = f.machine.Relay(context.Background(), uuid.New(), protocol.KindCallOffer, s.ID, callee, frame)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}
