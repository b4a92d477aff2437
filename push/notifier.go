package push

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nicmeup/logging"
	"nicmeup/metrics"
)

// TokenStore forgets tokens the push service reports as dead. It reports
// false when userID has registered a different token since.
type TokenStore interface {
	ClearPushTokenIf(ctx context.Context, userID, token string) (bool, error)
}

// Notifier sends fire-and-forget: failures are logged and never reach the caller.
type Notifier struct {
	sender  Sender
	tokens  TokenStore
	metrics *metrics.Metrics
	log     zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewNotifier(sender Sender, tokens TokenStore, m *metrics.Metrics, log zerolog.Logger) *Notifier {
	return &Notifier{
		sender:  sender,
		tokens:  tokens,
		metrics: m,
		log:     logging.Component(log, "push"),
		timeout: 5 * time.Second,
	}
}

// Notify queues msg for userID's device. It reports false when there is no token.
func (n *Notifier) Notify(userID, token string, msg Message) bool {
	if token == "" {
		return false
	}
	n.metrics.NotificationsSent.Inc()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				n.log.Error().Interface("panic", r).Str(logging.USER, userID).Msg("push send panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		err := n.sender.Send(ctx, token, msg)
		switch {
		case err == nil:
			n.log.Debug().Str(logging.USER, userID).Str("title", msg.Title).Msg("push sent")
		case errors.Is(err, ErrTokenExpired):
			n.metrics.PushFailures.Inc()
			n.log.Info().Str(logging.USER, userID).Msg("push token expired, removing")
			if n.tokens != nil {
				cleared, err := n.tokens.ClearPushTokenIf(ctx, userID, token)
				switch {
				case err != nil:
					n.log.Warn().Err(err).Str(logging.USER, userID).Msg("remove expired push token")
				case !cleared:
					n.log.Debug().Str(logging.USER, userID).Msg("push token replaced, keeping it")
				}
			}
		default:
			n.metrics.PushFailures.Inc()
			n.log.Warn().Err(err).Str(logging.USER, userID).Msg("push send failed")
		}
	}()
	return true
}

// Wait blocks until every queued send has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
