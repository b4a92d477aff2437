package push

import (
	"nicmeup/geo"
	"nicmeup/models"
)

// Request describes the quest being advertised to candidates.
type Request struct {
	SessionID         string
	RequesterID       string
	RequesterName     string
	RequesterPhotoURL string
	Location          geo.Point
}

// Dispatcher decides whether a candidate is close enough to hear about a quest.
type Dispatcher struct {
	notifier          *Notifier
	defaultRadiusFeet float64
}

func NewDispatcher(n *Notifier, defaultRadiusFeet float64) *Dispatcher {
	return &Dispatcher{notifier: n, defaultRadiusFeet: defaultRadiusFeet}
}

// RadiusMeters is how far a candidate's quests may travel.
func (d *Dispatcher) RadiusMeters(candidate *models.UserProfile) float64 {
	feet := candidate.QuestRadiusFeet
	if feet <= 0 {
		feet = d.defaultRadiusFeet
	}
	return geo.FeetToMeters(feet)
}

// Evaluate returns the distance from the requester to target and whether it is
// inside the candidate's radius. Invalid coordinates are never in range.
func (d *Dispatcher) Evaluate(from, target geo.Point, candidate *models.UserProfile) (float64, bool) {
	if !from.Valid() || !target.Valid() {
		return 0, false
	}
	dist := geo.Distance(from, target)
	return dist, dist <= d.RadiusMeters(candidate)
}

// MaybeNotify pushes the quest to candidate if target is in range and the
// candidate has a device token. It reports whether a push was sent.
func (d *Dispatcher) MaybeNotify(req Request, candidate *models.UserProfile, target geo.Point, live bool) bool {
	if _, ok := d.Evaluate(req.Location, target, candidate); !ok {
		return false
	}
	if !candidate.HasPushToken() {
		return false
	}

	data := map[string]any{
		"kind":                 "request",
		"sessionId":            req.SessionID,
		"requesterId":          req.RequesterID,
		"requesterName":        req.RequesterName,
		"targetLat":            target.Latitude,
		"targetLng":            target.Longitude,
		"isLiveLocationTarget": live,
	}
	if req.RequesterPhotoURL != "" {
		data["requesterPhotoUrl"] = req.RequesterPhotoURL
	}

	name := req.RequesterName
	if name == "" {
		name = "Someone"
	}
	return d.notifier.Notify(candidate.ID, candidate.PushToken, Message{
		Title: "NicQuest nearby",
		Body:  name + " is looking for a NicAssist",
		Data:  data,
	})
}
