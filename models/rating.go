package models

import "time"

// Rating is the running aggregate of stars a user has received.
type Rating struct {
	UserID  string  `bson:"_id" json:"userId"`
	Sum     int     `bson:"sum" json:"sum"`
	Count   int     `bson:"count" json:"count"`
	Average float64 `bson:"average" json:"average"`
}

// RatingVote records that a rater scored the other participant of a
// completed session. Its id is sessionID_raterID, one vote per rater.
type RatingVote struct {
	ID        string    `bson:"_id" json:"id"`
	SessionID string    `bson:"sessionId" json:"sessionId"`
	RaterID   string    `bson:"raterId" json:"raterId"`
	TargetID  string    `bson:"targetId" json:"targetId"`
	Stars     int       `bson:"stars" json:"stars"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

func RatingVoteID(sessionID, raterID string) string {
	return sessionID + "_" + raterID
}
