package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"taskchat/pkg/apperrors"
)

// Kind is the envelope discriminant. One envelope carries exactly one
// message kind.
type Kind string

// Client-to-server kinds.
const (
	KindSendMessage   Kind = "send_message"
	KindTyping        Kind = "typing_indicator"
	KindMarkDelivered Kind = "mark_delivered"
	KindCallInvite    Kind = "call_invite"
	KindCallAccept    Kind = "call_accept"
	KindCallReject    Kind = "call_reject"
	KindCallLeave     Kind = "call_leave"
	KindCallEnd       Kind = "call_end"
	KindCallOffer     Kind = "call_offer"
	KindCallAnswer    Kind = "call_answer"
	KindICECandidate  Kind = "ice_candidate"
	KindPing          Kind = "ping"
)

// Server-to-client kinds.
const (
	KindMessageReceived  Kind = "message_received"
	KindMessageDelivered Kind = "message_delivered"
	KindMessageRead      Kind = "message_read"
	KindPresenceChanged  Kind = "presence_changed"
	KindCallStateChanged Kind = "call_state_changed"
	KindNotificationPush Kind = "notification_push"
	KindTaskUpdated      Kind = "task_updated"
	KindTaskShared       Kind = "task_shared"
	KindTaskMemberGone   Kind = "task_member_removed"
	KindError            Kind = "error"
	KindPong             Kind = "pong"
)

// Envelope is the typed unit exchanged over a live connection.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeError reports a malformed inbound frame. It is isolated to the
// offending operation and wraps apperrors.ErrDecode for errors.Is.
type DecodeError struct {
	Kind   Kind
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("decode: %s", e.Reason)
	}
	return fmt.Sprintf("decode %s: %s", e.Kind, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return apperrors.ErrDecode
}

// Target is the conversation target variant: exactly one of ReceiverID
// or GroupID. Use Direct/Group to construct; Validate guards decoded
// input.
type Target struct {
	ReceiverID *uuid.UUID `json:"receiver_id,omitempty"`
	GroupID    *uuid.UUID `json:"group_id,omitempty"`
}

func Direct(userID uuid.UUID) Target {
	return Target{ReceiverID: &userID}
}

func Group(groupID uuid.UUID) Target {
	return Target{GroupID: &groupID}
}

func (t Target) Validate() error {
	if (t.ReceiverID == nil) == (t.GroupID == nil) {
		return apperrors.ErrInvalidInput
	}
	return nil
}

func (t Target) IsGroup() bool {
	return t.GroupID != nil
}

// Encode wraps a payload into an envelope frame.
func Encode(kind Kind, payload any) ([]byte, error) {
	env := Envelope{Type: kind}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = data
	}
	return json.Marshal(env)
}

// MustEncode is Encode for payloads built from local structs, where a
// marshal failure is a programming error.
func MustEncode(kind Kind, payload any) []byte {
	data, err := Encode(kind, payload)
	if err != nil {
		panic(err)
	}
	return data
}

// DecodeInbound parses a client frame into its typed payload. Unknown
// discriminants and malformed payloads yield a *DecodeError; the
// connection's other operations are unaffected.
func DecodeInbound(data []byte) (Kind, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, &DecodeError{Reason: err.Error()}
	}

	unmarshal := func(v any) error {
		if len(env.Payload) == 0 {
			return &DecodeError{Kind: env.Type, Reason: "missing payload"}
		}
		if err := json.Unmarshal(env.Payload, v); err != nil {
			return &DecodeError{Kind: env.Type, Reason: err.Error()}
		}
		return nil
	}

	switch env.Type {
	case KindSendMessage:
		var p SendMessagePayload
		if err := unmarshal(&p); err != nil {
			return env.Type, nil, err
		}
		if err := p.Target.Validate(); err != nil {
			return env.Type, nil, &DecodeError{Kind: env.Type, Reason: "target must set exactly one of receiver_id/group_id"}
		}
		if p.Content == "" && p.ImageURL == nil {
			return env.Type, nil, &DecodeError{Kind: env.Type, Reason: "empty content"}
		}
		return env.Type, &p, nil

	case KindTyping:
		var p TypingPayload
		if err := unmarshal(&p); err != nil {
			return env.Type, nil, err
		}
		if err := p.Target.Validate(); err != nil {
			return env.Type, nil, &DecodeError{Kind: env.Type, Reason: "target must set exactly one of receiver_id/group_id"}
		}
		return env.Type, &p, nil

	case KindMarkDelivered:
		var p MarkDeliveredPayload
		if err := unmarshal(&p); err != nil {
			return env.Type, nil, err
		}
		return env.Type, &p, nil

	case KindCallInvite:
		var p CallInvitePayload
		if err := unmarshal(&p); err != nil {
			return env.Type, nil, err
		}
		if err := p.Target.Validate(); err != nil {
			return env.Type, nil, &DecodeError{Kind: env.Type, Reason: "target must set exactly one of receiver_id/group_id"}
		}
		return env.Type, &p, nil

	case KindCallAccept, KindCallReject, KindCallLeave, KindCallEnd:
		var p CallControlPayload
		if err := unmarshal(&p); err != nil {
			return env.Type, nil, err
		}
		if p.CallID == uuid.Nil {
			return env.Type, nil, &DecodeError{Kind: env.Type, Reason: "missing call_id"}
		}
		return env.Type, &p, nil

	case KindCallOffer, KindCallAnswer:
		var p SDPPayload
		if err := unmarshal(&p); err != nil {
			return env.Type, nil, err
		}
		if p.CallID == uuid.Nil || p.ToUserID == uuid.Nil || p.SDP == "" {
			return env.Type, nil, &DecodeError{Kind: env.Type, Reason: "missing call_id/to_user_id/sdp"}
		}
		return env.Type, &p, nil

	case KindICECandidate:
		var p ICECandidatePayload
		if err := unmarshal(&p); err != nil {
			return env.Type, nil, err
		}
		if p.CallID == uuid.Nil || p.ToUserID == uuid.Nil || p.Candidate == "" {
			return env.Type, nil, &DecodeError{Kind: env.Type, Reason: "missing call_id/to_user_id/candidate"}
		}
		return env.Type, &p, nil

	case KindPing:
		return env.Type, nil, nil
	}

	return env.Type, nil, &DecodeError{Kind: env.Type, Reason: "unknown message type"}
}
