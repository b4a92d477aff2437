package store

import (
	"context"
	"errors"
	"strings"

	"nicmeup/geo"
	"nicmeup/models"
)

// Profile field paths written by more than one package.
const (
	ProfileGeoField       = "geo"
	LinkageField          = "nicMeUp"
	LinkageSessionIDField = "nicMeUp.sessionId"
	LinkageClaimedByField = "nicMeUp.claimedBy"
	LinkageShowAlertField = "nicMeUp.showAlert"
	PushTokenField        = "pushToken"
	LocationField         = "location"
	AssistPointsField     = "assistPoints"

	candidateLimit = 500
)

type Users struct {
	docs Documents
}

func NewUsers(docs Documents) *Users {
	return &Users{docs: docs}
}

func (u *Users) Get(ctx context.Context, id string) (*models.UserProfile, error) {
	return get[models.UserProfile](ctx, u.docs, UsersCollection, id)
}

func (u *Users) FindByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	var found []models.UserProfile
	q := Query{Where: Fields{"email": strings.ToLower(email)}, Limit: 1}
	if err := u.docs.Find(ctx, UsersCollection, q, &found); err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	return &found[0], nil
}

// Create inserts a new profile; ErrExists if the id is taken.
func (u *Users) Create(ctx context.Context, p *models.UserProfile) error {
	p.Email = strings.ToLower(p.Email)
	p.Geo = p.GeoPoints()
	return u.docs.Create(ctx, UsersCollection, p)
}

// Update merges f into an existing profile and keeps the geo index field in step.
func (u *Users) Update(ctx context.Context, id string, f Fields) error {
	if err := u.docs.Update(ctx, UsersCollection, id, f); err != nil {
		return err
	}
	if touchesGeo(f) {
		return u.refreshGeo(ctx, id)
	}
	return nil
}

// SetLinkage replaces the whole session slot.
func (u *Users) SetLinkage(ctx context.Context, id string, l models.SessionLinkage) error {
	return u.docs.Update(ctx, UsersCollection, id, Fields{LinkageField: l})
}

func (u *Users) ClearLinkage(ctx context.Context, id string) error {
	return u.SetLinkage(ctx, id, models.SessionLinkage{})
}

// UpdateLinkageIf applies f only while the profile still points at sessionID,
// so a stale writer never clobbers a newer session. It reports whether it wrote.
func (u *Users) UpdateLinkageIf(ctx context.Context, id, sessionID string, f Fields) (bool, error) {
	err := u.docs.UpdateIf(ctx, UsersCollection, id, Fields{LinkageSessionIDField: sessionID}, f)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrConditionFailed):
		return false, nil
	}
	return false, err
}

// ClearLinkageIf clears the session slot if it still names sessionID.
func (u *Users) ClearLinkageIf(ctx context.Context, id, sessionID string) (bool, error) {
	return u.UpdateLinkageIf(ctx, id, sessionID, Fields{LinkageField: models.SessionLinkage{}})
}

func (u *Users) ClearPushToken(ctx context.Context, id string) error {
	return u.docs.Update(ctx, UsersCollection, id, Fields{PushTokenField: ""})
}

// ClearPushTokenIf drops token only while it is still the registered one, so
// a token registered after a failed send survives.
func (u *Users) ClearPushTokenIf(ctx context.Context, id, token string) (bool, error) {
	err := u.docs.UpdateIf(ctx, UsersCollection, id, Fields{PushTokenField: token}, Fields{PushTokenField: ""})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrConditionFailed):
		return false, nil
	}
	return false, err
}

// Candidates returns every other profile with an assist point or live
// location within radiusMeters of center.
func (u *Users) Candidates(ctx context.Context, excludeID string, center geo.Point, radiusMeters float64) ([]models.UserProfile, error) {
	var found []models.UserProfile
	if err := u.docs.Near(ctx, UsersCollection, ProfileGeoField, center, radiusMeters, candidateLimit, &found); err != nil {
		return nil, err
	}

	out := found[:0]
	for _, p := range found {
		if p.ID != excludeID {
			out = append(out, p)
		}
	}
	return out, nil
}

// ReferencingSession lists profiles whose session slot names sessionID.
func (u *Users) ReferencingSession(ctx context.Context, sessionID string) ([]models.UserProfile, error) {
	var found []models.UserProfile
	err := u.docs.Find(ctx, UsersCollection, Query{Where: Fields{LinkageSessionIDField: sessionID}}, &found)
	return found, err
}

func (u *Users) Watch(ctx context.Context, id string) (<-chan Event[models.UserProfile], error) {
	return watch[models.UserProfile](ctx, u.docs, UsersCollection, id)
}

func (u *Users) refreshGeo(ctx context.Context, id string) error {
	p, err := u.Get(ctx, id)
	if err != nil {
		return err
	}
	return u.docs.Update(ctx, UsersCollection, id, Fields{ProfileGeoField: p.GeoPoints()})
}

func touchesGeo(f Fields) bool {
	for k := range f {
		if k == LocationField || k == AssistPointsField ||
			strings.HasPrefix(k, LocationField+".") || strings.HasPrefix(k, AssistPointsField+".") {
			return true
		}
	}
	return false
}
