// Package presence tracks which users currently have a chat thread open.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"nicmeup/clock"
)

// DefaultTTL bounds how long an open flag survives a client that never closes it.
const DefaultTTL = 2 * time.Minute

type Presence interface {
	SetChatOpen(ctx context.Context, threadID, userID string, open bool) error
	IsChatOpen(ctx context.Context, threadID, userID string) (bool, error)
}

func key(threadID, userID string) string {
	return "chat_open:" + threadID + ":" + userID
}

// Redis keeps open flags as expiring keys so several API nodes agree.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) SetChatOpen(ctx context.Context, threadID, userID string, open bool) error {
	if open {
		return r.client.Set(ctx, key(threadID, userID), 1, r.ttl).Err()
	}
	return r.client.Del(ctx, key(threadID, userID)).Err()
}

func (r *Redis) IsChatOpen(ctx context.Context, threadID, userID string) (bool, error) {
	n, err := r.client.Exists(ctx, key(threadID, userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Memory is the single-node implementation.
type Memory struct {
	mu      sync.Mutex
	expires map[string]time.Time
	ttl     time.Duration
	clock   clock.Clock
}

func NewMemory(c clock.Clock, ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{expires: make(map[string]time.Time), ttl: ttl, clock: c}
}

func (m *Memory) SetChatOpen(ctx context.Context, threadID, userID string, open bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(threadID, userID)
	if open {
		m.expires[k] = m.clock.Now().Add(m.ttl)
	} else {
		delete(m.expires, k)
	}
	return nil
}

func (m *Memory) IsChatOpen(ctx context.Context, threadID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(threadID, userID)
	exp, ok := m.expires[k]
	if !ok {
		return false, nil
	}
	if !m.clock.Now().Before(exp) {
		delete(m.expires, k)
		return false, nil
	}
	return true, nil
}
