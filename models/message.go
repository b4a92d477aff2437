package models

import "time"

type Message struct {
	ID       string    `bson:"_id" json:"id"`
	ThreadID string    `bson:"threadId" json:"threadId"`
	SenderID string    `bson:"senderId" json:"senderId"`
	Text     string    `bson:"text" json:"text"`
	SentAt   time.Time `bson:"sentAt" json:"sentAt"`
}
