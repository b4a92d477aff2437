package models

import (
	"time"

	"nicmeup/geo"
)

// UserProfile is stored once per account in the users collection.
type UserProfile struct {
	ID           string `bson:"_id" json:"id"`
	Email        string `bson:"email" json:"email"`
	PasswordHash string `bson:"passwordHash,omitempty" json:"-"`
	AuthProvider string `bson:"authProvider" json:"authProvider"`
	GoogleID     string `bson:"googleId,omitempty" json:"-"`

	Name     string `bson:"name" json:"name"`
	PhotoURL string `bson:"photoUrl,omitempty" json:"photoUrl,omitempty"`

	// Assist-offer preferences
	QuestRadiusFeet float64 `bson:"questRadius" json:"questRadius"`
	Pouch           string  `bson:"pouch" json:"pouch"`
	Flavor          string  `bson:"flavor" json:"flavor"`
	Strength        string  `bson:"strength" json:"strength"`
	Notes           string  `bson:"notes" json:"notes"`

	Location     *Location     `bson:"location,omitempty" json:"location,omitempty"`
	PushToken    string        `bson:"pushToken,omitempty" json:"-"`
	AssistPoints []AssistPoint `bson:"assistPoints" json:"assistPoints"`

	NicMeUp SessionLinkage `bson:"nicMeUp" json:"nicMeUp"`

	// Geo is derived from Location and the active assist points; it backs the 2dsphere index.
	Geo []geo.GeoJSONPoint `bson:"geo,omitempty" json:"-"`

	OnboardingComplete    bool       `bson:"onboardingComplete" json:"onboardingComplete"`
	OnboardingCompletedAt *time.Time `bson:"onboardingCompletedAt,omitempty" json:"onboardingCompletedAt,omitempty"`
	TermsVersion          string     `bson:"termsVersion,omitempty" json:"termsVersion,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	LastSeen  time.Time `bson:"lastSeen" json:"lastSeen"`
}

// GeoPoints lists every point the profile can be reached at.
func (p *UserProfile) GeoPoints() []geo.GeoJSONPoint {
	var points []geo.GeoJSONPoint
	for _, ap := range p.AssistPoints {
		if ap.Active && ap.Point().Valid() {
			points = append(points, geo.GeoJSON(ap.Point()))
		}
	}
	if p.Location != nil && p.Location.Point().Valid() {
		points = append(points, geo.GeoJSON(p.Location.Point()))
	}
	return points
}

// HasPushToken reports whether the profile can receive push messages.
func (p *UserProfile) HasPushToken() bool {
	return p.PushToken != ""
}
