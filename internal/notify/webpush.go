package notify

import (
	"context"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskchat/internal/domain/user"
	"taskchat/internal/repository"
)

// WebPushSender delivers browser push through the Web Push protocol
// with VAPID auth. Subscriptions the push service reports gone are
// pruned so dead endpoints stop accumulating.
type WebPushSender struct {
	users      repository.UserRepository
	subscriber string
	publicKey  string
	privateKey string
	log        *zap.Logger
}

func NewWebPushSender(users repository.UserRepository, subscriber, publicKey, privateKey string, log *zap.Logger) *WebPushSender {
	return &WebPushSender{
		users:      users,
		subscriber: subscriber,
		publicKey:  publicKey,
		privateKey: privateKey,
		log:        log,
	}
}

// Enabled reports whether VAPID keys were configured at all.
func (w *WebPushSender) Enabled() bool {
	return w.publicKey != "" && w.privateKey != ""
}

// Send pushes body to every registered subscription of the user.
// Failures are logged and skipped; push is best effort on top of the
// durable notification row.
func (w *WebPushSender) Send(ctx context.Context, userID uuid.UUID, subs []user.PushSubscription, body []byte) {
	for _, sub := range subs {
		resp, err := webpush.SendNotification(body, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			Subscriber:      w.subscriber,
			VAPIDPublicKey:  w.publicKey,
			VAPIDPrivateKey: w.privateKey,
			TTL:             60,
		})
		if err != nil {
			w.log.Warn("web push failed",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			if err := w.users.RemovePushSubscription(ctx, sub.Endpoint); err != nil {
				w.log.Warn("stale subscription prune failed", zap.Error(err))
			}
		}
		resp.Body.Close()
	}
}
