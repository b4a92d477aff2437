package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nicmeup/clock"
	"nicmeup/config"
	"nicmeup/logging"
	"nicmeup/models"
	"nicmeup/presence"
	"nicmeup/push"
	"nicmeup/store"
)

const (
	maxMessageLength = 2000
	previewRunes     = 100
)

var (
	ErrThreadUnavailable = errors.New("chat: thread not readable after retries")
	ErrEmptyMessage      = errors.New("chat: empty message")
	ErrMessageTooLong    = errors.New("chat: message too long")
)

type Service struct {
	chats     *store.Chats
	users     *store.Users
	presence  presence.Presence
	notifier  *push.Notifier
	clock     clock.Clock
	attempts  int
	baseDelay time.Duration
	log       zerolog.Logger
}

func NewService(chats *store.Chats, users *store.Users, p presence.Presence, n *push.Notifier, c clock.Clock, proto config.Protocol, log zerolog.Logger) *Service {
	return &Service{
		chats:     chats,
		users:     users,
		presence:  p,
		notifier:  n,
		clock:     c,
		attempts:  proto.ChatEnsureAttempts,
		baseDelay: proto.ChatEnsureBaseDelay,
		log:       logging.Component(log, "chat"),
	}
}

// ThreadKey is the id of the thread between a and b, independent of order.
func ThreadKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// Ensure creates the thread between a and b if needed and waits until it can
// be read back, retrying with exponential backoff.
func (s *Service) Ensure(ctx context.Context, a, b string) (*models.ChatThread, error) {
	key := ThreadKey(a, b)
	participants := []string{a, b}
	sort.Strings(participants)

	attempt := 0
	thread, err := backoff.RetryWithData(func() (*models.ChatThread, error) {
		attempt++
		err := s.chats.Create(ctx, &models.ChatThread{
			ID:           key,
			Participants: participants,
			Unread:       map[string]int{a: 0, b: 0},
			CreatedAt:    s.clock.Now(),
		})
		if err != nil && !errors.Is(err, store.ErrExists) {
			s.log.Warn().Err(err).Str("thread", key).Int("attempt", attempt).Msg("create chat thread")
		}

		thread, err := s.chats.Get(ctx, key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, backoff.Permanent(err)
		}
		return thread, err
	}, s.retryPolicy(ctx))

	switch {
	case err == nil:
		return thread, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrThreadUnavailable, key)
	}
	return nil, err
}

// retryPolicy allows s.attempts reads in total, doubling the wait each time.
func (s *Service) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(s.baseDelay),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0.25),
		backoff.WithMaxElapsedTime(0),
	)
	retries := 0
	if s.attempts > 1 {
		retries = s.attempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Send appends a message and updates the thread summary. The recipient's
// unread counter only grows while they do not have the thread open.
func (s *Service) Send(ctx context.Context, senderID, recipientID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if len(text) > maxMessageLength {
		return nil, ErrMessageTooLong
	}

	thread, err := s.Ensure(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	msg := &models.Message{
		ID:       uuid.NewString(),
		ThreadID: thread.ID,
		SenderID: senderID,
		Text:     text,
		SentAt:   now,
	}
	if err := s.chats.AddMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}

	open, err := s.presence.IsChatOpen(ctx, thread.ID, recipientID)
	if err != nil {
		s.log.Warn().Err(err).Str("thread", thread.ID).Msg("read chat presence")
	}

	summary := store.Fields{
		"lastMessage":   text,
		"lastSenderId":  senderID,
		"lastMessageAt": now,
	}
	if !open {
		summary["unread."+recipientID] = store.Inc{By: 1}
	}
	if err := s.chats.Update(ctx, thread.ID, summary); err != nil {
		s.log.Warn().Err(err).Str("thread", thread.ID).Msg("update chat summary")
	}

	if !open {
		s.notifyMessage(ctx, senderID, recipientID, text)
	}
	return msg, nil
}

func (s *Service) notifyMessage(ctx context.Context, senderID, recipientID, text string) {
	recipient, err := s.users.Get(ctx, recipientID)
	if err != nil || !recipient.HasPushToken() {
		return
	}

	name := "Someone"
	if sender, err := s.users.Get(ctx, senderID); err == nil && sender.Name != "" {
		name = sender.Name
	}
	body := preview(text, previewRunes)
	s.notifier.Notify(recipientID, recipient.PushToken, push.Message{
		Title: name + " sent a message",
		Body:  body,
		Data:  map[string]any{"kind": "chat", "threadId": ThreadKey(senderID, recipientID), "senderId": senderID},
	})
}

// Messages returns the thread between a and b oldest first.
func (s *Service) Messages(ctx context.Context, a, b string, limit int) ([]models.Message, error) {
	return s.chats.Messages(ctx, ThreadKey(a, b), limit)
}

// Thread returns the summary between a and b.
func (s *Service) Thread(ctx context.Context, a, b string) (*models.ChatThread, error) {
	return s.chats.Get(ctx, ThreadKey(a, b))
}

// MarkRead zeroes userID's unread counter.
func (s *Service) MarkRead(ctx context.Context, userID, otherID string) error {
	err := s.chats.Update(ctx, ThreadKey(userID, otherID), store.Fields{"unread." + userID: 0})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// SetOpen records whether userID is looking at the thread with otherID.
// Opening also marks the thread read.
func (s *Service) SetOpen(ctx context.Context, userID, otherID string, open bool) error {
	if err := s.presence.SetChatOpen(ctx, ThreadKey(userID, otherID), userID, open); err != nil {
		return err
	}
	if open {
		return s.MarkRead(ctx, userID, otherID)
	}
	return nil
}

func (s *Service) Watch(ctx context.Context, a, b string) (<-chan store.Event[models.ChatThread], error) {
	return s.chats.Watch(ctx, ThreadKey(a, b))
}

// preview cuts text to at most n runes, marking the cut with an ellipsis.
func preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}
