package rendezvous

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nicmeup/geo"
	"nicmeup/logging"
	"nicmeup/models"
	"nicmeup/store"
)

type EventKind string

const (
	// EventSession carries a session snapshot while it is live.
	EventSession EventKind = "session"
	// EventLocation reports a participant's new live position.
	EventLocation EventKind = "location"
	// EventProximity asks both sides whether they want to mark the session completed.
	EventProximity EventKind = "proximity"
	// EventChat carries the chat thread summary.
	EventChat EventKind = "chat"
	// EventEnded is always the last event of a run.
	EventEnded EventKind = "ended"
)

type Event struct {
	Kind     EventKind          `json:"kind"`
	Phase    models.Phase       `json:"phase,omitempty"`
	Session  *models.Session    `json:"session,omitempty"`
	UserID   string             `json:"userId,omitempty"`
	Location *models.Location   `json:"location,omitempty"`
	Distance float64            `json:"distanceMeters,omitempty"`
	Thread   *models.ChatThread `json:"thread,omitempty"`
	Unread   int                `json:"unread,omitempty"`
	// RateUserID is set on a completed session's EventEnded.
	RateUserID string `json:"rateUserId,omitempty"`
}

var errEnded = errors.New("rendezvous: session ended")

type locationUpdate struct {
	userID string
	point  geo.Point
}

// Run drives selfID's side of a matched session until it ends or ctx is
// canceled. Everything it starts stops before it returns. emit is called
// from one goroutine at a time.
func (s *Service) Run(ctx context.Context, selfID, sessionID string, emit func(Event)) error {
	sess, role, err := s.load(ctx, sessionID, selfID)
	if err != nil {
		return err
	}
	if !sess.Matched() {
		return ErrNotMatched
	}

	var (
		mu    sync.Mutex
		ended bool
	)
	send := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if ended {
			return
		}
		ended = e.Kind == EventEnded
		emit(e)
	}

	if !sess.Active {
		send(endedEvent(sess, selfID))
		return nil
	}

	s.metrics.LiveRendezvous.Inc()
	defer s.metrics.LiveRendezvous.Dec()

	otherID := sess.Other(selfID)
	log := s.log.With().Str(logging.SESSION, sessionID).Str(logging.USER, selfID).Logger()

	if err := s.beat(ctx, sessionID, role); err != nil && !errors.Is(err, store.ErrSessionInactive) {
		log.Warn().Err(err).Msg("initial heartbeat")
	}

	g, gctx := errgroup.WithContext(ctx)
	updates := make(chan locationUpdate)

	g.Go(func() error {
		return s.heartbeat(gctx, sessionID, role, log)
	})
	g.Go(func() error {
		return s.followSession(gctx, sessionID, selfID, send, log)
	})
	for _, id := range []string{selfID, otherID} {
		id := id
		g.Go(func() error {
			return s.followLocation(gctx, id, updates, send, log)
		})
	}
	g.Go(func() error {
		t := &tracker{svc: s, sess: sess, send: send, log: log}
		return t.run(gctx, updates)
	})
	g.Go(func() error {
		s.followChat(gctx, selfID, otherID, send, log)
		return nil
	})

	err = g.Wait()
	if errors.Is(err, errEnded) || ctx.Err() != nil {
		return nil
	}
	return err
}

func endedEvent(sess *models.Session, selfID string) Event {
	e := Event{Kind: EventEnded, Phase: sess.PhaseFor(selfID), Session: sess}
	if e.Phase == models.PhaseCompleted {
		e.RateUserID = sess.Other(selfID)
	}
	return e
}

func (s *Service) heartbeat(ctx context.Context, sessionID string, role models.Role, log zerolog.Logger) error {
	ticker := time.NewTicker(s.proto.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := s.beat(ctx, sessionID, role)
			switch {
			case err == nil:
			case errors.Is(err, store.ErrSessionInactive), errors.Is(err, store.ErrNotFound):
				// the session watcher ends the run
				return nil
			case ctx.Err() == nil:
				log.Warn().Err(err).Msg("heartbeat")
			}
		}
	}
}

func (s *Service) followSession(ctx context.Context, sessionID, selfID string, send func(Event), log zerolog.Logger) error {
	events, err := s.sessions.Watch(ctx, sessionID)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch {
			case ev.Err != nil:
				log.Warn().Err(ev.Err).Msg("decode session snapshot")
			case !ev.Exists:
				send(Event{Kind: EventEnded, Phase: models.PhaseTimedOut})
				return errEnded
			case !ev.Doc.Active:
				send(endedEvent(ev.Doc, selfID))
				return errEnded
			default:
				send(Event{Kind: EventSession, Phase: ev.Doc.PhaseFor(selfID), Session: ev.Doc})
			}
		}
	}
}

func (s *Service) followLocation(ctx context.Context, userID string, updates chan<- locationUpdate, send func(Event), log zerolog.Logger) error {
	events, err := s.users.Watch(ctx, userID)
	if err != nil {
		return err
	}
	var last *models.Location
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Err != nil {
				log.Warn().Err(ev.Err).Str("participant", userID).Msg("decode profile snapshot")
				continue
			}
			if ev.Doc == nil || ev.Doc.Location == nil {
				continue
			}
			loc := ev.Doc.Location
			if last != nil && sameLocation(last, loc) {
				continue
			}
			last = loc
			send(Event{Kind: EventLocation, UserID: userID, Location: loc})

			select {
			case updates <- locationUpdate{userID: userID, point: loc.Point()}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (s *Service) followChat(ctx context.Context, selfID, otherID string, send func(Event), log zerolog.Logger) {
	if _, err := s.chat.Ensure(ctx, selfID, otherID); err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("ensure chat thread")
		}
		return
	}
	events, err := s.chat.Watch(ctx, selfID, otherID)
	if err != nil {
		log.Warn().Err(err).Msg("watch chat thread")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Doc == nil {
				continue
			}
			send(Event{Kind: EventChat, Thread: ev.Doc, Unread: ev.Doc.UnreadFor(selfID)})
		}
	}
}

func sameLocation(a, b *models.Location) bool {
	return a.Latitude == b.Latitude && a.Longitude == b.Longitude && a.Timestamp.Equal(b.Timestamp)
}
