// Package rendezvous runs a matched session: liveness, shared location,
// proximity prompts and the two ways a session can end by hand.
package rendezvous

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"nicmeup/activity"
	"nicmeup/chat"
	"nicmeup/clock"
	"nicmeup/config"
	"nicmeup/geo"
	"nicmeup/logging"
	"nicmeup/metrics"
	"nicmeup/models"
	"nicmeup/push"
	"nicmeup/store"
)

var (
	ErrNotParticipant = errors.New("rendezvous: not a participant")
	ErrNotMatched     = errors.New("rendezvous: session has no recipient yet")
	ErrStillActive    = errors.New("rendezvous: session is still active")
	ErrInvalidPoint   = errors.New("rendezvous: invalid coordinates")
)

type Service struct {
	sessions *store.Sessions
	users    *store.Users
	chat     *chat.Service
	activity *activity.Log
	notifier *push.Notifier
	metrics  *metrics.Metrics
	clock    clock.Clock
	proto    config.Protocol
	log      zerolog.Logger
}

func NewService(
	sessions *store.Sessions,
	users *store.Users,
	chatSvc *chat.Service,
	activityLog *activity.Log,
	notifier *push.Notifier,
	m *metrics.Metrics,
	c clock.Clock,
	proto config.Protocol,
	log zerolog.Logger,
) *Service {
	return &Service{
		sessions: sessions,
		users:    users,
		chat:     chatSvc,
		activity: activityLog,
		notifier: notifier,
		metrics:  m,
		clock:    c,
		proto:    proto,
		log:      logging.Component(log, "rendezvous"),
	}
}

// View is one participant's picture of a session.
type View struct {
	Session *models.Session `json:"session"`
	Role    models.Role     `json:"role"`
	Phase   models.Phase    `json:"phase"`
	OtherID string          `json:"otherId"`
}

// load returns the session and userID's role in it.
func (s *Service) load(ctx context.Context, sessionID, userID string) (*models.Session, models.Role, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	role, ok := sess.RoleOf(userID)
	if !ok {
		return nil, "", ErrNotParticipant
	}
	return sess, role, nil
}

func (s *Service) View(ctx context.Context, sessionID, userID string) (*View, error) {
	sess, role, err := s.load(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return &View{Session: sess, Role: role, Phase: sess.PhaseFor(userID), OtherID: sess.Other(userID)}, nil
}

// Heartbeat records that userID still has the session open.
func (s *Service) Heartbeat(ctx context.Context, sessionID, userID string) error {
	_, role, err := s.load(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	return s.beat(ctx, sessionID, role)
}

func (s *Service) beat(ctx context.Context, sessionID string, role models.Role) error {
	now := s.clock.Now()
	return s.sessions.UpdateActive(ctx, sessionID, store.Fields{
		models.ActiveAtField(role): now,
		"updatedAt":                now,
	})
}

// CompleteResult tells the completing party whom to rate.
type CompleteResult struct {
	Session    *models.Session `json:"session"`
	RateUserID string          `json:"rateUserId"`
}

// Complete ends the session successfully and frees both participants.
func (s *Service) Complete(ctx context.Context, sessionID, userID string) (*CompleteResult, error) {
	sess, _, err := s.load(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !sess.Matched() {
		return nil, ErrNotMatched
	}

	now := s.clock.Now()
	err = s.sessions.UpdateActive(ctx, sessionID, store.Fields{
		"active":      false,
		"status":      models.StatusCompleted,
		"completedBy": userID,
		"completedAt": now,
		"updatedAt":   now,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SessionsCompleted.Inc()

	for _, id := range []string{sess.RequesterID, sess.RecipientID} {
		if _, err := s.users.ClearLinkageIf(ctx, id, sessionID); err != nil {
			s.log.Warn().Err(err).Str(logging.SESSION, sessionID).Str(logging.USER, id).Msg("unlink after completion")
		}
	}

	s.log.Info().Str(logging.SESSION, sessionID).Str(logging.USER, userID).Msg("session completed")
	done, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &CompleteResult{Session: done, RateUserID: sess.Other(userID)}, nil
}

// Cancel ends the session for both sides. The caller is unlinked right away;
// the other side keeps the session id with showAlert set until it
// acknowledges, so its client can tell the user what happened.
func (s *Service) Cancel(ctx context.Context, sessionID, userID string) error {
	sess, _, err := s.load(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !sess.Matched() {
		return ErrNotMatched
	}

	now := s.clock.Now()
	err = s.sessions.UpdateActive(ctx, sessionID, store.Fields{
		"active":     false,
		"status":     models.StatusCanceled,
		"canceledBy": userID,
		"canceledAt": now,
		"updatedAt":  now,
	})
	if err != nil {
		return err
	}
	s.metrics.SessionsCanceled.Inc()

	if _, err := s.users.ClearLinkageIf(ctx, userID, sessionID); err != nil {
		s.log.Warn().Err(err).Str(logging.SESSION, sessionID).Msg("unlink canceling user")
	}
	otherID := sess.Other(userID)
	flagged, err := s.users.UpdateLinkageIf(ctx, otherID, sessionID, store.Fields{store.LinkageShowAlertField: true})
	if err != nil {
		s.log.Warn().Err(err).Str(logging.SESSION, sessionID).Msg("flag other participant")
	}

	if flagged {
		if other, err := s.users.Get(ctx, otherID); err == nil {
			s.notifier.Notify(otherID, other.PushToken, push.Message{
				Title: "NicMeUp canceled",
				Body:  "The other person canceled this NicMeUp.",
				Data:  map[string]any{"kind": "canceled", "sessionId": sessionID},
			})
		}
	}
	s.log.Info().Str(logging.SESSION, sessionID).Str(logging.USER, userID).Msg("session canceled")
	return nil
}

// Acknowledge clears userID's link to a session that has already ended.
func (s *Service) Acknowledge(ctx context.Context, sessionID, userID string) error {
	sess, _, err := s.load(ctx, sessionID, userID)
	if errors.Is(err, store.ErrNotFound) {
		_, err = s.users.ClearLinkageIf(ctx, userID, sessionID)
		return err
	}
	if err != nil {
		return err
	}
	if sess.Active {
		return ErrStillActive
	}
	_, err = s.users.ClearLinkageIf(ctx, userID, sessionID)
	return err
}

// UpdateLocation stores a live position report for userID.
func (s *Service) UpdateLocation(ctx context.Context, userID string, p geo.Point) error {
	if !p.Valid() {
		return ErrInvalidPoint
	}
	now := s.clock.Now()
	err := s.users.Update(ctx, userID, store.Fields{
		store.LocationField: models.Location{Latitude: p.Latitude, Longitude: p.Longitude, Timestamp: now},
		"lastSeen":          now,
	})
	if err != nil {
		return fmt.Errorf("update location: %w", err)
	}
	return nil
}
