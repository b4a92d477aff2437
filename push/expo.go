package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
)

// Expo sends to the Expo push service used by the mobile app.
type Expo struct {
	client *expo.PushClient
}

// NewExpo talks to host, or to Expo's public host when host is empty.
func NewExpo(host string) *Expo {
	return &Expo{client: expo.NewPushClient(&expo.ClientConfig{
		Host:       host,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	})}
}

func (e *Expo) Send(ctx context.Context, token string, msg Message) error {
	to, err := expo.NewExponentPushToken(token)
	if err != nil {
		return ErrUnsupportedToken
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	resp, err := e.client.Publish(&expo.PushMessage{
		To:       []expo.ExponentPushToken{to},
		Title:    msg.Title,
		Body:     msg.Body,
		Data:     stringData(msg.Data),
		Sound:    "default",
		Priority: expo.DefaultPriority,
	})
	if err != nil {
		return fmt.Errorf("push: expo publish: %w", err)
	}

	err = resp.ValidateResponse()
	var gone *expo.DeviceNotRegisteredError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &gone):
		return ErrTokenExpired
	}
	return fmt.Errorf("push: expo: %w", err)
}

// stringData flattens the payload to the string map Expo messages carry.
// Non-string values are sent as their JSON encoding.
func stringData(data map[string]any) map[string]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		out[k] = string(b)
	}
	return out
}
