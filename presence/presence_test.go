package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nicmeup/clock"
)

func TestMemoryPresence(t *testing.T) {
	ctx := context.Background()
	c := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	p := NewMemory(c, time.Minute)

	open, err := p.IsChatOpen(ctx, "a_b", "a")
	require.NoError(t, err)
	assert.False(t, open)

	require.NoError(t, p.SetChatOpen(ctx, "a_b", "a", true))
	open, _ = p.IsChatOpen(ctx, "a_b", "a")
	assert.True(t, open)

	open, _ = p.IsChatOpen(ctx, "a_b", "b")
	assert.False(t, open)

	c.Advance(2 * time.Minute)
	open, _ = p.IsChatOpen(ctx, "a_b", "a")
	assert.False(t, open, "flag should expire")

	require.NoError(t, p.SetChatOpen(ctx, "a_b", "a", true))
	require.NoError(t, p.SetChatOpen(ctx, "a_b", "a", false))
	open, _ = p.IsChatOpen(ctx, "a_b", "a")
	assert.False(t, open)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "chat_open:a_b:a", key("a_b", "a"))
}
