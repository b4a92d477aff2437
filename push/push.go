// Package push delivers best-effort notifications to device tokens.
package push

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrTokenExpired means the device token will never work again and should be dropped.
	ErrTokenExpired     = errors.New("push: token expired")
	ErrUnsupportedToken = errors.New("push: unsupported token")
)

// Message is one notification. Data is delivered to the app untouched.
type Message struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// Sender delivers a message to one device token.
type Sender interface {
	Send(ctx context.Context, token string, msg Message) error
}

// Router picks a sender by token shape: Expo tokens go to Expo and
// JSON web push subscriptions go to web push.
type Router struct {
	Expo    Sender
	WebPush Sender
}

func (r *Router) Send(ctx context.Context, token string, msg Message) error {
	switch {
	case IsExpoToken(token) && r.Expo != nil:
		return r.Expo.Send(ctx, token, msg)
	case strings.HasPrefix(strings.TrimSpace(token), "{") && r.WebPush != nil:
		return r.WebPush.Send(ctx, token, msg)
	}
	return ErrUnsupportedToken
}

func IsExpoToken(token string) bool {
	return strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")
}
