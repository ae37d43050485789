package call

import (
	"time"

	"github.com/google/uuid"

	"taskchat/pkg/apperrors"
)

// Status is the call lifecycle state. Transitions go through
// Status.Transition; nothing else compares status strings.
type Status string

const (
	StatusInitiating Status = "initiating"
	StatusRinging    Status = "ringing"
	StatusActive     Status = "active"
	StatusEnded      Status = "ended"
	StatusMissed     Status = "missed"
	StatusRejected   Status = "rejected"
)

// transitions is the closed set of legal status moves. Terminal states
// have no entries: monotonic, no way out.
var transitions = map[Status][]Status{
	StatusInitiating: {StatusRinging, StatusMissed, StatusEnded},
	StatusRinging:    {StatusActive, StatusRejected, StatusMissed, StatusEnded},
	StatusActive:     {StatusEnded},
}

func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusMissed || s == StatusRejected
}

// Transition validates a status move against the lifecycle table.
func (s Status) Transition(to Status) (Status, error) {
	for _, next := range transitions[s] {
		if next == to {
			return to, nil
		}
	}
	return s, apperrors.ErrInvalidCallTransition
}

// Kind distinguishes audio-only from video calls.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindAudio, KindVideo:
		return Kind(s), nil
	}
	return "", apperrors.ErrInvalidInput
}

// Participant roles and per-participant statuses.
const (
	RoleCaller      = "caller"
	RoleParticipant = "participant"
)

type ParticipantStatus string

const (
	ParticipantRinging  ParticipantStatus = "ringing"
	ParticipantJoined   ParticipantStatus = "joined"
	ParticipantLeft     ParticipantStatus = "left"
	ParticipantRejected ParticipantStatus = "rejected"
)

func (s ParticipantStatus) Terminal() bool {
	return s == ParticipantLeft || s == ParticipantRejected
}

// Session represents calls table. Exactly one of ReceiverID/GroupID is
// set; NewDirect/NewGroup enforce it at construction.
type Session struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	CallerID        uuid.UUID  `gorm:"type:uuid;not null;index"`
	ReceiverID      *uuid.UUID `gorm:"type:uuid;index"`
	GroupID         *uuid.UUID `gorm:"type:uuid;index"`
	Kind            Kind       `gorm:"type:varchar(16);not null"`
	Status          Status     `gorm:"type:varchar(16);not null"`
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int32
	CreatedAt       time.Time `gorm:"default:now()"`
	UpdatedAt       time.Time `gorm:"default:now()"`
}

// Participant represents call_participants; unique on (call, user).
type Participant struct {
	CallID   uuid.UUID         `gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Role     string            `gorm:"not null"`
	Status   ParticipantStatus `gorm:"type:varchar(16);not null"`
	JoinedAt *time.Time
	LeftAt   *time.Time
}

func NewDirect(callerID, receiverID uuid.UUID, kind Kind) *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.New(),
		CallerID:   callerID,
		ReceiverID: &receiverID,
		Kind:       kind,
		Status:     StatusInitiating,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func NewGroup(callerID, groupID uuid.UUID, kind Kind) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.New(),
		CallerID:  callerID,
		GroupID:   &groupID,
		Kind:      kind,
		Status:    StatusInitiating,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsGroup reports whether the session is a group call.
func (s *Session) IsGroup() bool {
	return s.GroupID != nil
}

func (Session) TableName() string {
	return "calls"
}

func (Participant) TableName() string {
	return "call_participants"
}
