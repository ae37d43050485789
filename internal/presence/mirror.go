package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Redis key layout for the presence mirror.
const (
	onlineSetKey      = "presence:online"
	lastSeenKeyPrefix = "presence:last_seen:"
	typingKeyPrefix   = "typing:"
	eventChannelFmt   = "channel:presence:%s"

	typingTTL = 10 * time.Second
)

// Mirror copies presence facts into Redis so external services can
// read them without a connection to this process. It is a mirror, not
// a source: the registry stays authoritative and the tracker rewrites
// the mirror on every transition.
type Mirror struct {
	client *goredis.Client
}

func NewMirror(client *goredis.Client) *Mirror {
	return &Mirror{client: client}
}

type presenceEvent struct {
	UserID   string    `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	At       time.Time `json:"at"`
}

// Set records a presence flip and publishes it on the user's presence
// channel for any interested subscriber.
func (m *Mirror) Set(ctx context.Context, userID uuid.UUID, online bool, at time.Time) error {
	id := userID.String()

	pipe := m.client.Pipeline()
	if online {
		pipe.SAdd(ctx, onlineSetKey, id)
	} else {
		pipe.SRem(ctx, onlineSetKey, id)
	}
	pipe.Set(ctx, lastSeenKeyPrefix+id, at.UTC().Format(time.RFC3339), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(presenceEvent{UserID: id, IsOnline: online, At: at.UTC()})
	if err != nil {
		return err
	}
	return m.client.Publish(ctx, fmt.Sprintf(eventChannelFmt, id), data).Err()
}

// IsOnline reads the mirrored flag. For in-process decisions use the
// registry, not this.
func (m *Mirror) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	return m.client.SIsMember(ctx, onlineSetKey, userID.String()).Result()
}

// TrackTyping keeps a short-lived typing marker per conversation so a
// late subscriber can render current typers. The key self-expires;
// stale indicators clear without any retry machinery.
func (m *Mirror) TrackTyping(ctx context.Context, conversationKey string, userID uuid.UUID, isTyping bool) error {
	key := typingKeyPrefix + conversationKey
	if isTyping {
		pipe := m.client.Pipeline()
		pipe.SAdd(ctx, key, userID.String())
		pipe.Expire(ctx, key, typingTTL)
		_, err := pipe.Exec(ctx)
		return err
	}
	return m.client.SRem(ctx, key, userID.String()).Err()
}

// TypingUsers returns who is currently typing in a conversation.
func (m *Mirror) TypingUsers(ctx context.Context, conversationKey string) ([]string, error) {
	return m.client.SMembers(ctx, typingKeyPrefix+conversationKey).Result()
}
