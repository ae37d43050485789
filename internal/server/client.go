package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"taskchat/internal/domain/call"
	"taskchat/internal/protocol"
	"taskchat/internal/registry"
	"taskchat/pkg/apperrors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	// A connection this malformed is a broken or hostile client.
	maxDecodeFailures = 8
)

// Client bridges one websocket to its registry entry: the read pump
// feeds inbound frames to the dispatch switch serially, the write pump
// drains the registry queue. Per-connection ordering on both sides
// comes from these two loops being the only readers/writers.
type Client struct {
	conn *websocket.Conn
	rc   *registry.Conn
	deps *Deps
	log  *zap.Logger

	decodeFailures int
}

func NewClient(conn *websocket.Conn, rc *registry.Conn, deps *Deps) *Client {
	return &Client{
		conn: conn,
		rc:   rc,
		deps: deps,
		log: deps.Log.Logger.With(
			zap.String("user_id", rc.UserID().String()),
			zap.String("conn_id", rc.ID()),
		),
	}
}

// Run starts both pumps and blocks until the connection is torn down.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.deps.Registry.Unregister(c.rc)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket unexpected close", zap.Error(err))
			}
			return
		}

		kind, payload, err := protocol.DecodeInbound(data)
		if err != nil {
			c.decodeFailures++
			c.sendError(kind, err)
			if c.decodeFailures >= maxDecodeFailures {
				c.log.Warn("too many malformed frames, closing")
				return
			}
			continue
		}

		if err := c.dispatch(kind, payload); err != nil {
			c.sendError(kind, err)
		}
	}
}

func (c *Client) dispatch(kind protocol.Kind, payload any) error {
	ctx := context.Background()
	userID := c.rc.UserID()

	switch kind {
	case protocol.KindSendMessage:
		p := payload.(*protocol.SendMessagePayload)
		_, err := c.deps.Messages.Send(ctx, userID, c.rc.ID(), p)
		return err

	case protocol.KindTyping:
		p := payload.(*protocol.TypingPayload)
		c.deps.Router.RouteTyping(ctx, userID, p)
		if c.deps.Mirror != nil {
			if err := c.deps.Mirror.TrackTyping(ctx, typingKey(p.Target), userID, p.IsTyping); err != nil {
				c.log.Debug("typing mirror failed", zap.Error(err))
			}
		}
		return nil

	case protocol.KindMarkDelivered:
		p := payload.(*protocol.MarkDeliveredPayload)
		return c.deps.Messages.MarkRead(ctx, userID, p.MessageID)

	case protocol.KindCallInvite:
		p := payload.(*protocol.CallInvitePayload)
		ck, err := call.ParseKind(p.CallKind)
		if err != nil {
			return err
		}
		_, err = c.deps.Calls.Invite(ctx, userID, p.Target, ck)
		return err

	case protocol.KindCallAccept:
		p := payload.(*protocol.CallControlPayload)
		_, err := c.deps.Calls.Accept(ctx, userID, p.CallID)
		return err

	case protocol.KindCallReject:
		p := payload.(*protocol.CallControlPayload)
		_, err := c.deps.Calls.Reject(ctx, userID, p.CallID)
		return err

	case protocol.KindCallLeave:
		p := payload.(*protocol.CallControlPayload)
		_, err := c.deps.Calls.Leave(ctx, userID, p.CallID)
		return err

	case protocol.KindCallEnd:
		p := payload.(*protocol.CallControlPayload)
		_, err := c.deps.Calls.End(ctx, userID, p.CallID)
		return err

	case protocol.KindCallOffer, protocol.KindCallAnswer:
		p := payload.(*protocol.SDPPayload)
		p.FromUserID = userID
		frame := protocol.MustEncode(kind, p)
		return c.deps.Calls.Relay(ctx, userID, kind, p.CallID, p.ToUserID, frame)

	case protocol.KindICECandidate:
		p := payload.(*protocol.ICECandidatePayload)
		p.FromUserID = userID
		frame := protocol.MustEncode(kind, p)
		return c.deps.Calls.Relay(ctx, userID, kind, p.CallID, p.ToUserID, frame)

	case protocol.KindPing:
		c.send(protocol.MustEncode(protocol.KindPong, nil))
		return nil
	}

	return &protocol.DecodeError{Kind: kind, Reason: "unknown message type"}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.rc.Outbound():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-c.rc.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// send queues a frame on this connection only.
func (c *Client) send(frame []byte) {
	c.deps.Registry.BroadcastConn(c.rc.UserID(), c.rc.ID(), frame)
}

func (c *Client) sendError(kind protocol.Kind, err error) {
	c.send(protocol.MustEncode(protocol.KindError, protocol.ErrorPayload{
		Code:    errorCode(err),
		Message: err.Error(),
	}))
}

func typingKey(t protocol.Target) string {
	if t.GroupID != nil {
		return fmt.Sprintf("group:%s", t.GroupID)
	}
	return fmt.Sprintf("user:%s", t.ReceiverID)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrDecode):
		return "DECODE"
	case errors.Is(err, apperrors.ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, apperrors.ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, apperrors.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, apperrors.ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, apperrors.ErrCallConflict):
		return "CALL_CONFLICT"
	case errors.Is(err, apperrors.ErrInvalidCallTransition):
		return "INVALID_CALL_STATE"
	default:
		return "INTERNAL"
	}
}
