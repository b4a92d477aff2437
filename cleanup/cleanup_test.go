package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nicmeup/clock"
	"nicmeup/logging"
	"nicmeup/metrics"
	"nicmeup/models"
	"nicmeup/push"
	"nicmeup/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	tokens []string
	titles []string
}

func (r *recorder) Send(ctx context.Context, token string, msg push.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
	r.titles = append(r.titles, msg.Title)
	return nil
}

type fixture struct {
	reaper   *Reaper
	sessions *store.Sessions
	users    *store.Users
	metrics  *metrics.Metrics
	notifier *push.Notifier
	sender   *recorder
	clock    *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs := store.NewMemory()
	users := store.NewUsers(docs)
	sessions := store.NewSessions(docs)
	m := metrics.New()
	sender := &recorder{}
	n := push.NewNotifier(sender, users, m, logging.Nop())
	t.Cleanup(n.Wait)
	c := clock.NewFake(t0)

	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		require.NoError(t, users.Create(ctx, &models.UserProfile{ID: id, PushToken: "ExponentPushToken[" + id + "]"}))
	}
	return &fixture{
		reaper:   NewReaper(sessions, users, n, m, c, 60*time.Second, logging.Nop()),
		sessions: sessions,
		users:    users,
		metrics:  m,
		notifier: n,
		sender:   sender,
		clock:    c,
	}
}

func at(d time.Duration) *time.Time {
	t := t0.Add(d)
	return &t
}

// session stores a matched session between a and b with the given heartbeats
// relative to t0, and links both profiles to it.
func (f *fixture) session(t *testing.T, id string, aActive, bActive *time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.sessions.Create(ctx, &models.Session{
		ID:                id,
		RequesterID:       "a",
		RecipientID:       "b",
		Active:            true,
		Status:            models.StatusMatched,
		CreatedAt:         t0,
		UpdatedAt:         t0,
		RequesterActiveAt: aActive,
		RecipientActiveAt: bActive,
	}))
	require.NoError(t, f.users.SetLinkage(ctx, "a", models.SessionLinkage{SessionID: id, ClaimedBy: "b"}))
	require.NoError(t, f.users.SetLinkage(ctx, "b", models.SessionLinkage{SessionID: id, ClaimedTarget: "a"}))
}

func (f *fixture) linkage(t *testing.T, id string) models.SessionLinkage {
	t.Helper()
	p, err := f.users.Get(context.Background(), id)
	require.NoError(t, err)
	return p.NicMeUp
}

func TestSweepDeletesWhenBothSidesStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session(t, "s1", at(0), nil)
	f.clock.Set(t0.Add(2 * time.Minute))

	res, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 1, Deleted: 1}, res)

	_, err = f.sessions.Get(ctx, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, f.linkage(t, "a").InSession())
	assert.False(t, f.linkage(t, "b").InSession())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CleanupDeleted))
}

func TestSweepTimesOutOneStaleSide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// a last beat 61s ago, b just now
	f.clock.Set(t0.Add(61 * time.Second))
	f.session(t, "s1", at(0), at(61*time.Second))

	res, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 1, TimedOut: 1}, res)

	sess, err := f.sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, sess.Active)
	assert.Equal(t, models.CanceledBySystem, sess.CanceledBy)
	assert.Equal(t, models.StatusTimedOut, sess.Status)
	assert.Equal(t, models.PhaseTimedOut, sess.PhaseFor("b"))

	assert.False(t, f.linkage(t, "a").InSession())
	b := f.linkage(t, "b")
	assert.Equal(t, "s1", b.SessionID)
	assert.Equal(t, "a", b.ClaimedTarget)
	assert.True(t, b.ShowAlert, "the live side is told the session ended")

	f.notifier.Wait()
	f.sender.mu.Lock()
	assert.Equal(t, []string{"ExponentPushToken[b]"}, f.sender.tokens)
	assert.Equal(t, []string{"Session Cleared"}, f.sender.titles)
	f.sender.mu.Unlock()

	res, err = f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res, "terminal sessions are not scanned again")
}

func TestSweepLeavesLiveSessionsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock.Set(t0.Add(60 * time.Second))
	f.session(t, "s1", at(0), at(30*time.Second))

	res, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 1}, res)

	sess, err := f.sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, sess.Active)
}

func TestSweepPendingSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for id, beat := range map[string]time.Duration{"fresh": 90 * time.Second, "stale": 0} {
		require.NoError(t, f.sessions.Create(ctx, &models.Session{
			ID: id, RequesterID: "a", Active: true, Status: models.StatusPending,
			CreatedAt: t0, RequesterActiveAt: at(beat),
		}))
	}
	require.NoError(t, f.users.SetLinkage(ctx, "a", models.SessionLinkage{SessionID: "stale"}))
	f.clock.Set(t0.Add(2 * time.Minute))

	res, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 2, Deleted: 1}, res)

	_, err = f.sessions.Get(ctx, "stale")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.sessions.Get(ctx, "fresh")
	assert.NoError(t, err)
	assert.False(t, f.linkage(t, "a").InSession())
}

func TestRunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.session(t, "s1", nil, nil)

	done := make(chan struct{})
	go func() {
		f.reaper.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, err := f.sessions.Get(context.Background(), "s1")
		return err != nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
