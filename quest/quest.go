// Package quest broadcasts help requests to nearby users and resolves who
// accepts them.
package quest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

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
	ErrInvalidLocation = errors.New("quest: invalid requester location")
	ErrNotRequester    = errors.New("quest: only the requester may do that")
	ErrOwnQuest        = errors.New("quest: cannot accept your own quest")
	ErrNotParticipant  = errors.New("quest: not a participant")
)

type Service struct {
	sessions   *store.Sessions
	users      *store.Users
	dispatcher *push.Dispatcher
	notifier   *push.Notifier
	metrics    *metrics.Metrics
	clock      clock.Clock
	proto      config.Protocol
	log        zerolog.Logger
}

func NewService(
	sessions *store.Sessions,
	users *store.Users,
	notifier *push.Notifier,
	m *metrics.Metrics,
	c clock.Clock,
	proto config.Protocol,
	log zerolog.Logger,
) *Service {
	return &Service{
		sessions:   sessions,
		users:      users,
		dispatcher: push.NewDispatcher(notifier, proto.DefaultRadiusFeet),
		notifier:   notifier,
		metrics:    m,
		clock:      c,
		proto:      proto,
		log:        logging.Component(log, "quest"),
	}
}

// BroadcastResult is what the requester learns right after broadcasting.
// Matched is false when nobody was in range; the session is then already closed.
type BroadcastResult struct {
	SessionID  string     `json:"sessionId"`
	Matched    bool       `json:"matched"`
	Notified   int        `json:"notified"`
	Anchor     *geo.Point `json:"anchor,omitempty"`
	LiveTarget bool       `json:"isLiveLocationTarget"`
}

type target struct {
	point geo.Point
	live  bool
	dist  float64
}

// Broadcast opens a pending session for requesterID and pushes it to every
// candidate with an active assist point or fresh live location in range.
// An empty name falls back to the requester's profile name.
func (s *Service) Broadcast(ctx context.Context, requesterID string, loc geo.Point, name string) (*BroadcastResult, error) {
	if !loc.Valid() {
		return nil, ErrInvalidLocation
	}
	start := time.Now()
	defer func() { s.metrics.BroadcastDuration.Observe(time.Since(start).Seconds()) }()

	requester, err := s.users.Get(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("load requester: %w", err)
	}
	if name == "" {
		name = requester.Name
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	sess := &models.Session{
		ID:                id.String(),
		RequesterID:       requesterID,
		RequesterName:     name,
		Active:            true,
		Status:            models.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
		RequesterActiveAt: &now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := s.users.SetLinkage(ctx, requesterID, models.SessionLinkage{SessionID: sess.ID}); err != nil {
		s.log.Warn().Err(err).Str(logging.SESSION, sess.ID).Msg("link requester")
	}
	s.metrics.QuestsBroadcast.Inc()

	candidates, err := s.users.Candidates(ctx, requesterID, loc, geo.FeetToMeters(s.proto.MaxRadiusFeet))
	if err != nil {
		s.log.Error().Err(err).Str(logging.SESSION, sess.ID).Msg("candidate lookup")
	}

	req := push.Request{
		SessionID:         sess.ID,
		RequesterID:       requesterID,
		RequesterName:     name,
		RequesterPhotoURL: requester.PhotoURL,
		Location:          loc,
	}
	var (
		anchor   *target
		notified int
	)
	for i := range candidates {
		cand := &candidates[i]
		best := s.nearestTarget(loc, cand, now)
		if best == nil {
			continue
		}
		if !s.dispatcher.MaybeNotify(req, cand, best.point, best.live) {
			continue
		}
		notified++
		if anchor == nil || best.dist < anchor.dist {
			anchor = best
		}
	}

	res := &BroadcastResult{SessionID: sess.ID, Notified: notified}
	if anchor == nil {
		s.abort(ctx, sess)
		s.metrics.QuestsNoOneNearby.Inc()
		s.log.Info().Str(logging.SESSION, sess.ID).Int("candidates", len(candidates)).Msg("no one nearby")
		return res, nil
	}

	err = s.sessions.UpdateActive(ctx, sess.ID, store.Fields{
		"target":               anchor.point,
		"isLiveLocationTarget": anchor.live,
	})
	if err != nil && !errors.Is(err, store.ErrSessionInactive) {
		s.log.Warn().Err(err).Str(logging.SESSION, sess.ID).Msg("persist anchor")
	}

	res.Matched = true
	res.Anchor = &anchor.point
	res.LiveTarget = anchor.live
	s.log.Info().Str(logging.SESSION, sess.ID).Int("notified", notified).Msg("quest broadcast")
	return res, nil
}

// nearestTarget picks the closest in-range point the candidate offers, or nil.
func (s *Service) nearestTarget(from geo.Point, cand *models.UserProfile, now time.Time) *target {
	var best *target
	consider := func(p geo.Point, live bool) {
		dist, ok := s.dispatcher.Evaluate(from, p, cand)
		if ok && (best == nil || dist < best.dist) {
			best = &target{point: p, live: live, dist: dist}
		}
	}
	for _, ap := range cand.AssistPoints {
		if ap.Active {
			consider(ap.Point(), false)
		}
	}
	if cand.Location != nil && cand.Location.FreshAt(now, s.proto.LocationFreshness) {
		consider(cand.Location.Point(), true)
	}
	return best
}

func (s *Service) abort(ctx context.Context, sess *models.Session) {
	now := s.clock.Now()
	err := s.sessions.UpdateActive(ctx, sess.ID, store.Fields{
		"active":     false,
		"status":     models.StatusAborted,
		"canceledBy": sess.RequesterID,
		"canceledAt": now,
		"updatedAt":  now,
	})
	if err != nil {
		s.log.Warn().Err(err).Str(logging.SESSION, sess.ID).Msg("abort session")
	}
	if _, err := s.users.ClearLinkageIf(ctx, sess.RequesterID, sess.ID); err != nil {
		s.log.Warn().Err(err).Str(logging.SESSION, sess.ID).Msg("unlink requester")
	}
}

// Claim makes recipientID the one who answers the quest. Only the first
// claim on an active session succeeds; later ones get store.ErrAlreadyClaimed.
func (s *Service) Claim(ctx context.Context, sessionID, recipientID string) (*models.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.RequesterID == recipientID {
		return nil, ErrOwnQuest
	}

	now := s.clock.Now()
	f := store.Fields{
		"status":            models.StatusMatched,
		"claimedAt":         now,
		"updatedAt":         now,
		"recipientActiveAt": now,
	}
	recipient, err := s.users.Get(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("load recipient: %w", err)
	}
	if sess.LiveTarget && recipient.Location != nil && recipient.Location.Point().Valid() {
		f["target"] = recipient.Location.Point()
	}

	if err := s.sessions.Claim(ctx, sessionID, recipientID, f); err != nil {
		return nil, err
	}
	s.metrics.SessionsClaimed.Inc()

	if err := s.users.SetLinkage(ctx, recipientID, models.SessionLinkage{
		SessionID:     sessionID,
		ClaimedTarget: sess.RequesterID,
	}); err != nil {
		s.log.Warn().Err(err).Str(logging.SESSION, sessionID).Msg("link recipient")
	}
	if _, err := s.users.UpdateLinkageIf(ctx, sess.RequesterID, sessionID, store.Fields{
		store.LinkageClaimedByField: recipientID,
	}); err != nil {
		s.log.Warn().Err(err).Str(logging.SESSION, sessionID).Msg("mark requester claimed")
	}

	if requester, err := s.users.Get(ctx, sess.RequesterID); err == nil {
		helper := recipient.Name
		if helper == "" {
			helper = "Someone"
		}
		s.notifier.Notify(requester.ID, requester.PushToken, push.Message{
			Title: "NicAssist on the way",
			Body:  helper + " accepted your NicQuest",
			Data:  map[string]any{"kind": "claimed", "sessionId": sessionID, "recipientId": recipientID},
		})
	}

	s.log.Info().Str(logging.SESSION, sessionID).Str(logging.USER, recipientID).Msg("quest claimed")
	return s.sessions.Get(ctx, sessionID)
}

// Cancel withdraws a quest nobody has claimed yet. Once claimed, the
// session belongs to the rendezvous and Cancel returns store.ErrAlreadyClaimed.
func (s *Service) Cancel(ctx context.Context, sessionID, userID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.RequesterID != userID {
		return ErrNotRequester
	}

	now := s.clock.Now()
	err = s.sessions.UpdateIf(ctx, sessionID, store.Fields{"recipientId": ""}, store.Fields{
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
		s.log.Warn().Err(err).Str(logging.SESSION, sessionID).Msg("unlink requester")
	}
	s.log.Info().Str(logging.SESSION, sessionID).Msg("quest canceled")
	return nil
}

// Get returns the session if userID is the requester or the recipient,
// or if it is still open to be claimed.
func (s *Service) Get(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, ok := sess.RoleOf(userID); !ok && (sess.Matched() || !sess.Active) {
		return nil, ErrNotParticipant
	}
	return sess, nil
}
