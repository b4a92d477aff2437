package models

import "time"

// ChatThread is the summary document for a pair of users, keyed by the sorted pair.
type ChatThread struct {
	ID            string         `bson:"_id" json:"id"`
	Participants  []string       `bson:"participants" json:"participants"`
	LastMessage   string         `bson:"lastMessage" json:"lastMessage"`
	LastSenderID  string         `bson:"lastSenderId,omitempty" json:"lastSenderId,omitempty"`
	LastMessageAt *time.Time     `bson:"lastMessageAt,omitempty" json:"lastMessageAt,omitempty"`
	Unread        map[string]int `bson:"unread" json:"unread"`
	CreatedAt     time.Time      `bson:"createdAt" json:"createdAt"`
}

func (t *ChatThread) UnreadFor(userID string) int {
	return t.Unread[userID]
}
