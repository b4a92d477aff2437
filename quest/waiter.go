package quest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nicmeup/logging"
	"nicmeup/models"
	"nicmeup/store"
)

// Outcome ends the requester's wait. Phase is PhaseMatched when someone
// accepted; anything else means the quest is over.
type Outcome struct {
	Phase             models.Phase    `json:"phase"`
	Session           *models.Session `json:"session,omitempty"`
	RequesterPhotoURL string          `json:"requesterPhotoUrl,omitempty"`
	RecipientPhotoURL string          `json:"recipientPhotoUrl,omitempty"`
}

// waiter resolves exactly once however many snapshots report the same thing.
type waiter struct {
	done    atomic.Bool
	outcome *Outcome
	stop    context.CancelFunc
}

func (w *waiter) resolve(o *Outcome) bool {
	if !w.done.CompareAndSwap(false, true) {
		return false
	}
	w.outcome = o
	w.stop()
	return true
}

// Wait blocks until the pending quest is claimed or ends. While it waits it
// keeps the requester's heartbeat on the session fresh.
func (s *Service) Wait(ctx context.Context, sessionID, requesterID string) (*Outcome, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		// reaped before we got here
		return &Outcome{Phase: models.PhaseTimedOut}, nil
	}
	if err != nil {
		return nil, err
	}
	if sess.RequesterID != requesterID {
		return nil, ErrNotRequester
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := &waiter{stop: cancel}

	sessEvents, err := s.sessions.Watch(runCtx, sessionID)
	if err != nil {
		return nil, err
	}
	profileEvents, err := s.users.Watch(runCtx, requesterID)
	if err != nil {
		return nil, err
	}

	log := s.log.With().Str(logging.SESSION, sessionID).Logger()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-sessEvents:
				if !ok {
					return nil
				}
				switch {
				case ev.Err != nil:
					log.Warn().Err(ev.Err).Msg("decode session snapshot")
				case !ev.Exists:
					w.resolve(&Outcome{Phase: models.PhaseTimedOut})
				case !ev.Doc.Active:
					w.resolve(&Outcome{Phase: ev.Doc.PhaseFor(requesterID), Session: ev.Doc})
				case ev.Doc.Matched():
					w.resolve(&Outcome{Phase: models.PhaseMatched, Session: ev.Doc})
				}
			}
		}
	})

	// Older clients claim by writing claimedBy on the requester's profile.
	// That write is turned into a real claim on the session so the match is
	// reported by the session watcher with its recipient set.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-profileEvents:
				if !ok {
					return nil
				}
				if ev.Doc == nil {
					continue
				}
				link := ev.Doc.NicMeUp
				if link.SessionID != sessionID || link.ClaimedBy == "" {
					continue
				}
				s.claimFromProfile(ctx, sessionID, link.ClaimedBy, log)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(s.proto.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				now := s.clock.Now()
				err := s.sessions.UpdateActive(gctx, sessionID, store.Fields{
					models.ActiveAtField(models.RoleRequester): now,
					"updatedAt": now,
				})
				switch {
				case err == nil:
				case errors.Is(err, store.ErrSessionInactive), errors.Is(err, store.ErrNotFound):
					return nil
				case gctx.Err() == nil:
					log.Warn().Err(err).Msg("waiting heartbeat")
				}
			}
		}
	})

	_ = g.Wait()
	if w.outcome == nil {
		return nil, ctx.Err()
	}
	if w.outcome.Phase == models.PhaseMatched {
		s.attachPhotos(ctx, w.outcome)
	}
	return w.outcome, nil
}

func (s *Service) claimFromProfile(ctx context.Context, sessionID, recipientID string, log zerolog.Logger) {
	// not tied to the wait: the claim's follow-up writes must land after the
	// session watcher resolves and cancels it
	ctx = context.WithoutCancel(ctx)
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil || sess.RecipientID != "" || !sess.Active {
		return
	}
	_, err = s.Claim(ctx, sessionID, recipientID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrAlreadyClaimed), errors.Is(err, store.ErrSessionInactive):
		// the session watcher reports whoever won
	default:
		log.Warn().Err(err).Str(logging.USER, recipientID).Msg("claim from profile")
	}
}

// attachPhotos is best effort; a missing profile just leaves the URL empty.
func (s *Service) attachPhotos(ctx context.Context, o *Outcome) {
	if o.Session == nil {
		return
	}
	if p, err := s.users.Get(ctx, o.Session.RequesterID); err == nil {
		o.RequesterPhotoURL = p.PhotoURL
	}
	if p, err := s.users.Get(ctx, o.Session.RecipientID); err == nil {
		o.RecipientPhotoURL = p.PhotoURL
	}
}
