package quest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nicmeup/clock"
	"nicmeup/config"
	"nicmeup/geo"
	"nicmeup/logging"
	"nicmeup/metrics"
	"nicmeup/models"
	"nicmeup/push"
	"nicmeup/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	t0     = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	denver = geo.Point{Latitude: 39.7405, Longitude: -104.9706}
)

type recorder struct {
	mu   sync.Mutex
	msgs map[string][]push.Message
}

func (r *recorder) Send(ctx context.Context, token string, msg push.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.msgs == nil {
		r.msgs = make(map[string][]push.Message)
	}
	r.msgs[token] = append(r.msgs[token], msg)
	return nil
}

func (r *recorder) to(token string) []push.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]push.Message(nil), r.msgs[token]...)
}

type fixture struct {
	svc      *Service
	users    *store.Users
	sessions *store.Sessions
	sender   *recorder
	notifier *push.Notifier
	clock    *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs := store.NewMemory()
	c := clock.NewFake(t0)
	proto := config.DefaultProtocol()
	proto.HeartbeatInterval = 20 * time.Millisecond

	users := store.NewUsers(docs)
	sessions := store.NewSessions(docs)
	sender := &recorder{}
	m := metrics.New()
	n := push.NewNotifier(sender, users, m, logging.Nop())
	t.Cleanup(n.Wait)

	f := &fixture{
		svc:      NewService(sessions, users, n, m, c, proto, logging.Nop()),
		users:    users,
		sessions: sessions,
		sender:   sender,
		notifier: n,
		clock:    c,
	}
	f.addUser(t, &models.UserProfile{ID: "req", Name: "Ann", PushToken: "ExponentPushToken[req]", PhotoURL: "https://img/req.jpg"})
	return f
}

func (f *fixture) addUser(t *testing.T, p *models.UserProfile) {
	t.Helper()
	require.NoError(t, f.users.Create(context.Background(), p))
}

func offset(p geo.Point, dLat float64) geo.Point {
	return geo.Point{Latitude: p.Latitude + dLat, Longitude: p.Longitude}
}

func helperAt(id string, p geo.Point) *models.UserProfile {
	return &models.UserProfile{
		ID:           id,
		Name:         "Helper " + id,
		PushToken:    "ExponentPushToken[" + id + "]",
		AssistPoints: []models.AssistPoint{{Name: "spot", Latitude: p.Latitude, Longitude: p.Longitude, Active: true}},
	}
}

func TestBroadcastNoOneNearbyAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, helperAt("far", offset(denver, 1)))

	res, err := f.svc.Broadcast(ctx, "req", denver, "")
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Zero(t, res.Notified)

	sess, err := f.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.False(t, sess.Active)
	assert.Equal(t, models.StatusAborted, sess.Status)
	assert.Equal(t, "req", sess.CanceledBy)
	assert.Nil(t, sess.Target)

	req, err := f.users.Get(ctx, "req")
	require.NoError(t, err)
	assert.False(t, req.NicMeUp.InSession())
}

func TestBroadcastInRangeWithoutTokenDoesNotCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := helperAt("silent", denver)
	p.PushToken = ""
	f.addUser(t, p)

	res, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestBroadcastPicksNearestAnchor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, helperAt("near", offset(denver, 0.0001)))
	f.addUser(t, helperAt("nearer", offset(denver, 0.00005)))

	res, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, 2, res.Notified)
	assert.False(t, res.LiveTarget)
	require.NotNil(t, res.Anchor)
	assert.InDelta(t, denver.Latitude+0.00005, res.Anchor.Latitude, 1e-9)

	sess, err := f.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.True(t, sess.Active)
	assert.Equal(t, models.StatusPending, sess.Status)
	require.NotNil(t, sess.Target)
	assert.InDelta(t, res.Anchor.Latitude, sess.Target.Latitude, 1e-9)

	f.notifier.Wait()
	got := f.sender.to("ExponentPushToken[near]")
	require.Len(t, got, 1)
	assert.Equal(t, res.SessionID, got[0].Data["sessionId"])
	assert.Equal(t, "https://img/req.jpg", got[0].Data["requesterPhotoUrl"])
}

func TestBroadcastUsesOnlyFreshLiveLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := &models.UserProfile{ID: "stale", PushToken: "ExponentPushToken[stale]",
		Location: &models.Location{Latitude: denver.Latitude, Longitude: denver.Longitude, Timestamp: t0.Add(-10 * time.Minute)}}
	f.addUser(t, stale)

	res, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)
	assert.False(t, res.Matched)

	fresh := &models.UserProfile{ID: "fresh", PushToken: "ExponentPushToken[fresh]",
		Location: &models.Location{Latitude: denver.Latitude, Longitude: denver.Longitude, Timestamp: t0.Add(-time.Minute)}}
	f.addUser(t, fresh)

	res, err = f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.True(t, res.LiveTarget)
	assert.Equal(t, 1, res.Notified)
}

func TestBroadcastRejectsInvalidLocation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Broadcast(context.Background(), "req", geo.Point{Latitude: 91}, "Ann")
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestBackToBackBroadcastsBothStayActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, helperAt("h", denver))

	first, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)

	active, err := f.sessions.ByRequester(ctx, "req", true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, second.SessionID, active[0].ID)
	assert.Equal(t, first.SessionID, active[1].ID)
}

func TestClaimFirstWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, helperAt("h1", denver))
	f.addUser(t, helperAt("h2", denver))

	res, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   []string
		losers int
	)
	for _, id := range []string{"h1", "h2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.Claim(ctx, res.SessionID, id)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins = append(wins, id)
			} else {
				assert.ErrorIs(t, err, store.ErrAlreadyClaimed)
				losers++
			}
		}(id)
	}
	wg.Wait()
	require.Len(t, wins, 1)
	assert.Equal(t, 1, losers)

	sess, err := f.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, wins[0], sess.RecipientID)
	assert.Equal(t, models.StatusMatched, sess.Status)
	assert.Equal(t, models.PhaseMatched, sess.PhaseFor("req"))

	winner, err := f.users.Get(ctx, wins[0])
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, winner.NicMeUp.SessionID)
	assert.Equal(t, "req", winner.NicMeUp.ClaimedTarget)

	req, err := f.users.Get(ctx, "req")
	require.NoError(t, err)
	assert.Equal(t, wins[0], req.NicMeUp.ClaimedBy)

	f.notifier.Wait()
	msgs := f.sender.to("ExponentPushToken[req]")
	require.Len(t, msgs, 1)
	assert.Equal(t, "NicAssist on the way", msgs[0].Title)
}

func TestClaimOwnQuest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, helperAt("h", denver))

	res, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, res.SessionID, "req")
	assert.ErrorIs(t, err, ErrOwnQuest)
}

func TestClaimLiveTargetMovesToRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	here := offset(denver, 0.0002)
	f.addUser(t, &models.UserProfile{ID: "h", PushToken: "ExponentPushToken[h]",
		Location: &models.Location{Latitude: here.Latitude, Longitude: here.Longitude, Timestamp: t0}})

	res, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)
	require.True(t, res.LiveTarget)

	moved := offset(denver, 0.0003)
	require.NoError(t, f.users.Update(ctx, "h", store.Fields{store.LocationField: models.Location{
		Latitude: moved.Latitude, Longitude: moved.Longitude, Timestamp: t0,
	}}))

	sess, err := f.svc.Claim(ctx, res.SessionID, "h")
	require.NoError(t, err)
	require.NotNil(t, sess.Target)
	assert.InDelta(t, moved.Latitude, sess.Target.Latitude, 1e-9)
}

func TestCancelPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, helperAt("h", denver))

	res, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Cancel(ctx, res.SessionID, "h"), ErrNotRequester)
	require.NoError(t, f.svc.Cancel(ctx, res.SessionID, "req"))

	sess, err := f.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.False(t, sess.Active)
	assert.Equal(t, models.PhaseCanceledBySelf, sess.PhaseFor("req"))

	req, err := f.users.Get(ctx, "req")
	require.NoError(t, err)
	assert.False(t, req.NicMeUp.InSession())

	_, err = f.svc.Claim(ctx, res.SessionID, "h")
	assert.ErrorIs(t, err, store.ErrSessionInactive)
}

func TestCancelAfterClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, helperAt("h", denver))

	res, err := f.svc.Broadcast(ctx, "req", denver, "Ann")
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, res.SessionID, "h")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Cancel(ctx, res.SessionID, "req"), store.ErrAlreadyClaimed)
}
