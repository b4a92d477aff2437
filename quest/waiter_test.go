package quest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nicmeup/models"
	"nicmeup/store"
)

type waitResult struct {
	outcome *Outcome
	err     error
}

func startWait(ctx context.Context, f *fixture, sessionID string) <-chan waitResult {
	done := make(chan waitResult, 1)
	go func() {
		o, err := f.svc.Wait(ctx, sessionID, "req")
		done <- waitResult{o, err}
	}()
	return done
}

func await(t *testing.T, done <-chan waitResult) waitResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return")
	}
	return waitResult{}
}

func TestWaitResolvesOnClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := helperAt("h", denver)
	h.PhotoURL = "https://img/h.jpg"
	f.addUser(t, h)

	res, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)

	done := startWait(ctx, f, res.SessionID)
	_, err = f.svc.Claim(ctx, res.SessionID, "h")
	require.NoError(t, err)

	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, models.PhaseMatched, r.outcome.Phase)
	assert.Equal(t, "h", r.outcome.Session.RecipientID)
	assert.Equal(t, "https://img/req.jpg", r.outcome.RequesterPhotoURL)
	assert.Equal(t, "https://img/h.jpg", r.outcome.RecipientPhotoURL)
}

func TestWaitResolvesOnProfileClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := helperAt("h", denver)
	h.PhotoURL = "https://img/h.jpg"
	f.addUser(t, h)

	res, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)

	done := startWait(ctx, f, res.SessionID)
	ok, err := f.users.UpdateLinkageIf(ctx, "req", res.SessionID, store.Fields{store.LinkageClaimedByField: "h"})
	require.NoError(t, err)
	require.True(t, ok)

	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, models.PhaseMatched, r.outcome.Phase)
	require.NotNil(t, r.outcome.Session)
	assert.Equal(t, "h", r.outcome.Session.RecipientID)
	assert.Equal(t, "https://img/h.jpg", r.outcome.RecipientPhotoURL)

	sess, err := f.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "h", sess.RecipientID)
	assert.Equal(t, models.StatusMatched, sess.Status)

	f.addUser(t, helperAt("late", denver))
	_, err = f.svc.Claim(ctx, res.SessionID, "late")
	assert.ErrorIs(t, err, store.ErrAlreadyClaimed)

	assert.Eventually(t, func() bool {
		p, err := f.users.Get(ctx, "h")
		return err == nil && p.NicMeUp.SessionID == res.SessionID
	}, time.Second, 10*time.Millisecond)
}

func TestWaitSeesDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, helperAt("h", denver))

	res, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)

	done := startWait(ctx, f, res.SessionID)
	require.NoError(t, f.sessions.Delete(ctx, res.SessionID))

	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, models.PhaseTimedOut, r.outcome.Phase)
}

func TestWaitSeesOwnCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, helperAt("h", denver))

	res, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)

	done := startWait(ctx, f, res.SessionID)
	require.NoError(t, f.svc.Cancel(ctx, res.SessionID, "req"))

	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, models.PhaseCanceledBySelf, r.outcome.Phase)
}

func TestWaitHeartbeatsAndStopsOnContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.addUser(t, helperAt("h", denver))

	res, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)

	done := startWait(ctx, f, res.SessionID)
	f.clock.Advance(30 * time.Second)
	assert.Eventually(t, func() bool {
		sess, err := f.sessions.Get(context.Background(), res.SessionID)
		return err == nil && sess.RequesterActiveAt != nil && sess.RequesterActiveAt.Equal(t0.Add(30*time.Second))
	}, time.Second, 10*time.Millisecond)

	cancel()
	r := await(t, done)
	assert.ErrorIs(t, r.err, context.Canceled)
}

func TestWaitRejectsOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, helperAt("h", denver))

	res, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)

	_, err = f.svc.Wait(ctx, res.SessionID, "h")
	assert.ErrorIs(t, err, ErrNotRequester)
}

func TestWaiterResolvesOnce(t *testing.T) {
	stopped := 0
	w := &waiter{stop: func() { stopped++ }}

	first := &Outcome{Phase: models.PhaseMatched}
	assert.True(t, w.resolve(first))
	assert.False(t, w.resolve(&Outcome{Phase: models.PhaseMatched}))
	assert.False(t, w.resolve(&Outcome{Phase: models.PhaseTimedOut}))

	assert.Same(t, first, w.outcome)
	assert.Equal(t, 1, stopped)
}
