// Package activity records in-person meetups in the global and per-user feeds.
package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"nicmeup/clock"
	"nicmeup/logging"
	"nicmeup/models"
	"nicmeup/store"
)

const defaultFeedLimit = 50

type Log struct {
	activities *store.Activities
	clock      clock.Clock
	log        zerolog.Logger
}

func NewLog(activities *store.Activities, c clock.Clock, log zerolog.Logger) *Log {
	return &Log{activities: activities, clock: c, log: logging.Component(log, "activity")}
}

func entryID(sessionID, userID string) string {
	return sessionID + "_" + userID
}

// Record logs that both participants of sess met. It writes at most once per
// session no matter how many times it is called; the first return value
// reports whether this call did the write.
func (l *Log) Record(ctx context.Context, sess *models.Session) (bool, error) {
	if !sess.Matched() {
		return false, nil
	}
	act := models.Activity{
		RequesterID: sess.RequesterID,
		RecipientID: sess.RecipientID,
		SessionID:   sess.ID,
		Timestamp:   l.clock.Now(),
	}

	// The requester entry doubles as the dedup marker.
	err := l.activities.AddForUser(ctx, &models.UserActivity{
		ID:       entryID(sess.ID, sess.RequesterID),
		UserID:   sess.RequesterID,
		Activity: act,
	})
	if errors.Is(err, store.ErrExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record requester activity: %w", err)
	}

	err = l.activities.AddForUser(ctx, &models.UserActivity{
		ID:       entryID(sess.ID, sess.RecipientID),
		UserID:   sess.RecipientID,
		Activity: act,
	})
	if err != nil && !errors.Is(err, store.ErrExists) {
		l.log.Warn().Err(err).Str(logging.SESSION, sess.ID).Msg("record recipient activity")
	}

	if err := l.activities.AppendGlobal(ctx, act); err != nil {
		l.log.Warn().Err(err).Str(logging.SESSION, sess.ID).Msg("append global activity")
	}
	l.log.Info().Str(logging.SESSION, sess.ID).Msg("meetup logged")
	return true, nil
}

// Recent returns the global feed newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]models.Activity, error) {
	all, err := l.activities.Global(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	out := make([]models.Activity, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (l *Log) ForUser(ctx context.Context, userID string, limit int) ([]models.UserActivity, error) {
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	return l.activities.ForUser(ctx, userID, limit)
}
