package models

import "time"

// Activity records two participants meeting in person.
type Activity struct {
	RequesterID string    `bson:"requesterId" json:"requesterId"`
	RecipientID string    `bson:"recipientId" json:"recipientId"`
	SessionID   string    `bson:"sessionId" json:"sessionId"`
	Timestamp   time.Time `bson:"timestamp" json:"timestamp"`
}

// UserActivity is the per-user copy of an Activity.
type UserActivity struct {
	ID       string `bson:"_id" json:"id"`
	UserID   string `bson:"userId" json:"userId"`
	Activity `bson:",inline"`
}
