package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
)

// WebPush sends to browser subscriptions. The device token is the
// subscription JSON the browser produced.
type WebPush struct {
	PublicKey  string
	PrivateKey string
	Subscriber string
	TTL        int
}

func (w *WebPush) Send(ctx context.Context, token string, msg Message) error {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedToken, err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ttl := w.TTL
	if ttl == 0 {
		ttl = 30
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
		Subscriber:      w.Subscriber,
		VAPIDPublicKey:  w.PublicKey,
		VAPIDPrivateKey: w.PrivateKey,
		TTL:             ttl,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return ErrTokenExpired
	case resp.StatusCode >= 400:
		return fmt.Errorf("push: web push status %d", resp.StatusCode)
	}
	return nil
}
