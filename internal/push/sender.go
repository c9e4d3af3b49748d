// Package push delivers Web Push notifications for new messages to
// participants that have no open session.
package push

import (
	"context"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/inbox/internal/storage"
)

// Sender delivers one encrypted payload to one browser subscription and
// returns the push service's HTTP status.
type Sender interface {
	Send(ctx context.Context, payload []byte, sub storage.PushSubscription) (int, error)
}

// WebPushSender signs requests with the server's VAPID keys.
type WebPushSender struct {
	opts *webpush.Options
}

func NewWebPushSender(keys *VAPIDKeys, subscriber string) *WebPushSender {
	return &WebPushSender{opts: &webpush.Options{
		Subscriber:      subscriber,
		VAPIDPublicKey:  keys.PublicKey,
		VAPIDPrivateKey: keys.PrivateKey,
		TTL:             30,
	}}
}

func (s *WebPushSender) Send(ctx context.Context, payload []byte, sub storage.PushSubscription) (int, error) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, s.opts)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
