package store

import (
	"context"

	"nicmeup/models"
)

type Chats struct {
	docs Documents
}

func NewChats(docs Documents) *Chats {
	return &Chats{docs: docs}
}

// Create inserts the thread summary; ErrExists if it is already there.
func (c *Chats) Create(ctx context.Context, t *models.ChatThread) error {
	return c.docs.Create(ctx, ChatsCollection, t)
}

func (c *Chats) Get(ctx context.Context, id string) (*models.ChatThread, error) {
	return get[models.ChatThread](ctx, c.docs, ChatsCollection, id)
}

func (c *Chats) Update(ctx context.Context, id string, f Fields) error {
	return c.docs.Update(ctx, ChatsCollection, id, f)
}

func (c *Chats) AddMessage(ctx context.Context, m *models.Message) error {
	return c.docs.Create(ctx, MessagesCollection, m)
}

// Messages returns a thread's messages oldest first.
func (c *Chats) Messages(ctx context.Context, threadID string, limit int) ([]models.Message, error) {
	var out []models.Message
	q := Query{Where: Fields{"threadId": threadID}, OrderBy: "sentAt", Limit: limit}
	err := c.docs.Find(ctx, MessagesCollection, q, &out)
	return out, err
}

// Watch follows the thread summary, which changes on every message.
func (c *Chats) Watch(ctx context.Context, id string) (<-chan Event[models.ChatThread], error) {
	return watch[models.ChatThread](ctx, c.docs, ChatsCollection, id)
}
