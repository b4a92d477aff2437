package models

import (
	"time"

	"nicmeup/geo"
)

// Location is a live position report.
type Location struct {
	Latitude  float64   `bson:"latitude" json:"latitude"`
	Longitude float64   `bson:"longitude" json:"longitude"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

func (l Location) Point() geo.Point {
	return geo.Point{Latitude: l.Latitude, Longitude: l.Longitude}
}

// FreshAt reports whether the report is no older than window at now.
func (l Location) FreshAt(now time.Time, window time.Duration) bool {
	return !l.Timestamp.IsZero() && now.Sub(l.Timestamp) <= window
}

// AssistPoint is a place a user is willing to help at.
type AssistPoint struct {
	Name      string  `bson:"name" json:"name"`
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
	Active    bool    `bson:"active" json:"active"`
}

func (a AssistPoint) Point() geo.Point {
	return geo.Point{Latitude: a.Latitude, Longitude: a.Longitude}
}

// SessionLinkage is the single session slot embedded in a profile.
// An empty SessionID means the user is not in a session.
type SessionLinkage struct {
	SessionID string `bson:"sessionId" json:"sessionId"`
	// ClaimedBy is set on the requester once someone accepts.
	ClaimedBy string `bson:"claimedBy" json:"claimedBy"`
	// ClaimedTarget is set on the recipient and names the requester.
	ClaimedTarget string `bson:"claimedTarget" json:"claimedTarget"`
	ShowAlert     bool   `bson:"showAlert" json:"showAlert"`
}

func (l SessionLinkage) InSession() bool {
	return l.SessionID != ""
}
