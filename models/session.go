package models

import (
	"time"

	"nicmeup/geo"
)

type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusMatched   SessionStatus = "matched"
	StatusCompleted SessionStatus = "completed"
	StatusCanceled  SessionStatus = "canceled"
	StatusTimedOut  SessionStatus = "timed_out"
	// StatusAborted marks a broadcast that reached nobody.
	StatusAborted SessionStatus = "aborted"
)

// CanceledBySystem is the canceledBy value written by the cleanup job.
const CanceledBySystem = "system"

// Phase is a session as seen by one participant.
type Phase string

const (
	PhasePending         Phase = "pending"
	PhaseMatched         Phase = "matched"
	PhaseCompleted       Phase = "completed"
	PhaseCanceledBySelf  Phase = "canceled_by_self"
	PhaseCanceledByOther Phase = "canceled_by_other"
	PhaseTimedOut        Phase = "timed_out"
)

type Role string

const (
	RoleRequester Role = "requester"
	RoleRecipient Role = "recipient"
)

// Session coordinates one requester/recipient rendezvous in nicSessions.
// Once Active is false the document is terminal.
type Session struct {
	ID            string `bson:"_id" json:"id"`
	RequesterID   string `bson:"requesterId" json:"requesterId"`
	RequesterName string `bson:"requesterName" json:"requesterName"`
	RecipientID   string `bson:"recipientId" json:"recipientId"`

	Target     *geo.Point `bson:"target,omitempty" json:"target,omitempty"`
	LiveTarget bool       `bson:"isLiveLocationTarget" json:"isLiveLocationTarget"`

	Active      bool          `bson:"active" json:"active"`
	Status      SessionStatus `bson:"status" json:"status"`
	CompletedBy string        `bson:"completedBy,omitempty" json:"completedBy,omitempty"`
	CanceledBy  string        `bson:"canceledBy,omitempty" json:"canceledBy,omitempty"`

	CreatedAt   time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time  `bson:"updatedAt" json:"updatedAt"`
	ClaimedAt   *time.Time `bson:"claimedAt,omitempty" json:"claimedAt,omitempty"`
	CompletedAt *time.Time `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	CanceledAt  *time.Time `bson:"canceledAt,omitempty" json:"canceledAt,omitempty"`

	RequesterActiveAt *time.Time `bson:"requesterActiveAt,omitempty" json:"requesterActiveAt,omitempty"`
	RecipientActiveAt *time.Time `bson:"recipientActiveAt,omitempty" json:"recipientActiveAt,omitempty"`
}

// RoleOf returns the participant role of userID.
func (s *Session) RoleOf(userID string) (Role, bool) {
	switch {
	case userID == "":
		return "", false
	case userID == s.RequesterID:
		return RoleRequester, true
	case userID == s.RecipientID:
		return RoleRecipient, true
	}
	return "", false
}

// Other returns the participant that is not userID.
func (s *Session) Other(userID string) string {
	if userID == s.RequesterID {
		return s.RecipientID
	}
	return s.RequesterID
}

func (s *Session) Matched() bool {
	return s.RecipientID != ""
}

// ActiveAt returns the heartbeat timestamp for a role.
func (s *Session) ActiveAt(r Role) *time.Time {
	if r == RoleRecipient {
		return s.RecipientActiveAt
	}
	return s.RequesterActiveAt
}

// ActiveAtField is the document field holding the heartbeat for a role.
func ActiveAtField(r Role) string {
	if r == RoleRecipient {
		return "recipientActiveAt"
	}
	return "requesterActiveAt"
}

// PhaseFor collapses the stored flags into the phase userID observes.
func (s *Session) PhaseFor(userID string) Phase {
	if s.Active {
		if s.Matched() {
			return PhaseMatched
		}
		return PhasePending
	}
	switch {
	case s.Status == StatusCompleted:
		return PhaseCompleted
	case s.Status == StatusTimedOut || s.CanceledBy == CanceledBySystem:
		return PhaseTimedOut
	case s.CanceledBy == userID:
		return PhaseCanceledBySelf
	}
	return PhaseCanceledByOther
}
