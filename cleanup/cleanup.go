// Package cleanup reaps sessions whose participants stopped heartbeating.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nicmeup/clock"
	"nicmeup/logging"
	"nicmeup/metrics"
	"nicmeup/models"
	"nicmeup/push"
	"nicmeup/store"
)

// Result summarizes one sweep.
type Result struct {
	Scanned  int `json:"scanned"`
	Deleted  int `json:"deleted"`
	TimedOut int `json:"timedOut"`
}

type Reaper struct {
	sessions *store.Sessions
	users    *store.Users
	notifier *push.Notifier
	metrics  *metrics.Metrics
	clock    clock.Clock
	limit    time.Duration
	log      zerolog.Logger
}

func NewReaper(sessions *store.Sessions, users *store.Users, n *push.Notifier, m *metrics.Metrics, c clock.Clock, inactivityLimit time.Duration, log zerolog.Logger) *Reaper {
	return &Reaper{
		sessions: sessions,
		users:    users,
		notifier: n,
		metrics:  m,
		clock:    c,
		limit:    inactivityLimit,
		log:      logging.Component(log, "cleanup"),
	}
}

// Run sweeps every interval until ctx ends.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", interval).Dur("inactivity_limit", r.limit).Msg("session cleanup started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := r.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Error().Err(err).Msg("sweep")
				}
				continue
			}
			if res.Deleted > 0 || res.TimedOut > 0 {
				r.log.Info().Int("scanned", res.Scanned).Int("deleted", res.Deleted).Int("timed_out", res.TimedOut).Msg("sweep")
			}
		}
	}
}

// Sweep makes one pass over the active sessions. A session where nobody is
// heartbeating is deleted; one where a single side went quiet is closed as
// timed out, and only the quiet side is unlinked so the live side's client
// sees the change. Pending sessions only depend on the requester.
func (r *Reaper) Sweep(ctx context.Context) (Result, error) {
	active, err := r.sessions.Active(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list active sessions: %w", err)
	}

	cutoff := r.clock.Now().Add(-r.limit)
	stale := func(t *time.Time) bool { return t == nil || t.Before(cutoff) }

	res := Result{Scanned: len(active)}
	for i := range active {
		sess := &active[i]
		reqStale := stale(sess.RequesterActiveAt)
		recStale := !sess.Matched() || stale(sess.RecipientActiveAt)

		switch {
		case reqStale && recStale:
			if r.remove(ctx, sess) {
				res.Deleted++
			}
		case reqStale:
			if r.timeOut(ctx, sess, sess.RequesterID, sess.RecipientID) {
				res.TimedOut++
			}
		case recStale && sess.Matched():
			if r.timeOut(ctx, sess, sess.RecipientID, sess.RequesterID) {
				res.TimedOut++
			}
		}
	}
	return res, nil
}

func (r *Reaper) remove(ctx context.Context, sess *models.Session) bool {
	log := r.log.With().Str(logging.SESSION, sess.ID).Logger()
	if err := r.sessions.Delete(ctx, sess.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Msg("delete stale session")
		return false
	}

	linked, err := r.users.ReferencingSession(ctx, sess.ID)
	if err != nil {
		log.Warn().Err(err).Msg("find linked profiles")
	}
	for _, p := range linked {
		if _, err := r.users.ClearLinkageIf(ctx, p.ID, sess.ID); err != nil {
			log.Warn().Err(err).Str(logging.USER, p.ID).Msg("unlink profile")
		}
	}
	r.metrics.CleanupDeleted.Inc()
	log.Info().Int("unlinked", len(linked)).Msg("deleted abandoned session")
	return true
}

func (r *Reaper) timeOut(ctx context.Context, sess *models.Session, staleID, liveID string) bool {
	log := r.log.With().Str(logging.SESSION, sess.ID).Logger()
	now := r.clock.Now()
	err := r.sessions.UpdateActive(ctx, sess.ID, store.Fields{
		"active":     false,
		"status":     models.StatusTimedOut,
		"canceledBy": models.CanceledBySystem,
		"canceledAt": now,
		"updatedAt":  now,
	})
	if errors.Is(err, store.ErrSessionInactive) || errors.Is(err, store.ErrNotFound) {
		// a participant ended it since we listed
		return false
	}
	if err != nil {
		log.Warn().Err(err).Msg("time out session")
		return false
	}

	if _, err := r.users.ClearLinkageIf(ctx, staleID, sess.ID); err != nil {
		log.Warn().Err(err).Str(logging.USER, staleID).Msg("unlink stale side")
	}
	// the live side keeps its linkage until it acknowledges the alert
	if _, err := r.users.UpdateLinkageIf(ctx, liveID, sess.ID, store.Fields{store.LinkageShowAlertField: true}); err != nil {
		log.Warn().Err(err).Str(logging.USER, liveID).Msg("flag live side")
	}
	if live, err := r.users.Get(ctx, liveID); err == nil {
		r.notifier.Notify(liveID, live.PushToken, push.Message{
			Title: "Session Cleared",
			Body:  "Your NicMeUp ended because the other person went offline.",
			Data:  map[string]any{"kind": "timed_out", "sessionId": sess.ID},
		})
	}
	r.metrics.CleanupTimedOut.Inc()
	log.Info().Str("stale", staleID).Msg("timed out session")
	return true
}
