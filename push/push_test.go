package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"nicmeup/geo"
	"nicmeup/logging"
	"nicmeup/metrics"
	"nicmeup/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sent struct {
	token string
	msg   Message
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) Send(ctx context.Context, token string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{token: token, msg: msg})
	return f.err
}

func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

// fakeTokens holds the currently registered token per user.
type fakeTokens struct {
	mu      sync.Mutex
	current map[string]string
	cleared []string
}

func (f *fakeTokens) ClearPushTokenIf(ctx context.Context, userID, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current[userID] != token {
		return false, nil
	}
	delete(f.current, userID)
	f.cleared = append(f.cleared, userID)
	return true, nil
}

var denver = geo.Point{Latitude: 39.7405, Longitude: -104.9706}

func newDispatcher(sender Sender, tokens TokenStore) (*Dispatcher, *Notifier) {
	n := NewNotifier(sender, tokens, metrics.New(), logging.Nop())
	return NewDispatcher(n, 250), n
}

func candidateAt(p geo.Point, token string) *models.UserProfile {
	return &models.UserProfile{
		ID:              "cand",
		QuestRadiusFeet: 250,
		PushToken:       token,
		AssistPoints:    []models.AssistPoint{{Latitude: p.Latitude, Longitude: p.Longitude, Active: true}},
	}
}

func TestMaybeNotifySameSpot(t *testing.T) {
	sender := &fakeSender{}
	d, n := newDispatcher(sender, nil)

	cand := candidateAt(denver, "ExponentPushToken[abc]")
	ok := d.MaybeNotify(Request{SessionID: "s1", RequesterID: "req", RequesterName: "Ann", Location: denver}, cand, denver, false)
	n.Wait()

	assert.True(t, ok)
	got := sender.all()
	require.Len(t, got, 1)
	assert.Equal(t, "ExponentPushToken[abc]", got[0].token)
	assert.Equal(t, "request", got[0].msg.Data["kind"])
	assert.Equal(t, "req", got[0].msg.Data["requesterId"])
	assert.Equal(t, false, got[0].msg.Data["isLiveLocationTarget"])
	assert.NotContains(t, got[0].msg.Data, "requesterPhotoUrl")
}

func TestMaybeNotifyWithoutToken(t *testing.T) {
	sender := &fakeSender{}
	d, n := newDispatcher(sender, nil)

	ok := d.MaybeNotify(Request{RequesterID: "req", Location: denver}, candidateAt(denver, ""), denver, false)
	n.Wait()

	assert.False(t, ok)
	assert.Empty(t, sender.all())
}

func TestRadiusGate(t *testing.T) {
	sender := &fakeSender{}
	d, n := newDispatcher(sender, nil)
	cand := candidateAt(denver, "ExponentPushToken[abc]")
	limit := geo.FeetToMeters(250)

	for _, dLat := range []float64{0, 0.0001, 0.0005, 0.00068, 0.0007, 0.001, 0.01} {
		target := geo.Point{Latitude: denver.Latitude + dLat, Longitude: denver.Longitude}
		want := geo.Distance(denver, target) <= limit
		got := d.MaybeNotify(Request{Location: denver}, cand, target, false)
		assert.Equal(t, want, got, "offset %v", dLat)
	}
	n.Wait()
}

func TestRadiusGateProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sender := &fakeSender{}
		d, n := newDispatcher(sender, nil)

		from := geo.Point{
			Latitude:  rapid.Float64Range(-80, 80).Draw(t, "lat"),
			Longitude: rapid.Float64Range(-179, 179).Draw(t, "lng"),
		}
		target := geo.Point{
			Latitude:  from.Latitude + rapid.Float64Range(-0.02, 0.02).Draw(t, "dlat"),
			Longitude: from.Longitude + rapid.Float64Range(-0.02, 0.02).Draw(t, "dlng"),
		}
		radiusFeet := rapid.Float64Range(1, 5000).Draw(t, "radius")
		token := rapid.SampledFrom([]string{"", "ExponentPushToken[x]"}).Draw(t, "token")

		cand := candidateAt(target, token)
		cand.QuestRadiusFeet = radiusFeet
		want := token != "" && geo.Distance(from, target) <= radiusFeet*0.3048

		got := d.MaybeNotify(Request{Location: from}, cand, target, false)
		n.Wait()

		assert.Equal(t, want, got)
		if want {
			assert.Len(t, sender.all(), 1)
		} else {
			assert.Empty(t, sender.all())
		}
	})
}

func TestInvalidCoordinatesNeverMatch(t *testing.T) {
	d, n := newDispatcher(&fakeSender{}, nil)
	cand := candidateAt(denver, "tok")
	bad := geo.Point{Latitude: 200, Longitude: 0}

	assert.False(t, d.MaybeNotify(Request{Location: bad}, cand, denver, false))
	assert.False(t, d.MaybeNotify(Request{Location: denver}, cand, bad, true))
	n.Wait()
}

func TestDefaultRadius(t *testing.T) {
	d, _ := newDispatcher(&fakeSender{}, nil)
	assert.InDelta(t, 76.2, d.RadiusMeters(&models.UserProfile{}), 1e-9)
	assert.InDelta(t, 152.4, d.RadiusMeters(&models.UserProfile{QuestRadiusFeet: 500}), 1e-9)
}

func TestNotifierDropsExpiredTokens(t *testing.T) {
	tokens := &fakeTokens{current: map[string]string{"u1": "tok"}}
	_, n := newDispatcher(&fakeSender{err: ErrTokenExpired}, tokens)

	assert.True(t, n.Notify("u1", "tok", Message{Title: "x"}))
	n.Wait()

	assert.Equal(t, []string{"u1"}, tokens.cleared)
}

func TestNotifierKeepsReplacedToken(t *testing.T) {
	// the user registered a new device while the old token was failing
	tokens := &fakeTokens{current: map[string]string{"u1": "new-tok"}}
	_, n := newDispatcher(&fakeSender{err: ErrTokenExpired}, tokens)

	assert.True(t, n.Notify("u1", "old-tok", Message{Title: "x"}))
	n.Wait()

	assert.Empty(t, tokens.cleared)
	assert.Equal(t, "new-tok", tokens.current["u1"])
}

func TestNotifierSwallowsErrors(t *testing.T) {
	tokens := &fakeTokens{}
	_, n := newDispatcher(&fakeSender{err: errors.New("boom")}, tokens)

	assert.True(t, n.Notify("u1", "tok", Message{}))
	n.Wait()
	assert.Empty(t, tokens.cleared)
}

func TestRouter(t *testing.T) {
	expo := &fakeSender{}
	web := &fakeSender{}
	r := &Router{Expo: expo, WebPush: web}
	ctx := context.Background()

	require.NoError(t, r.Send(ctx, "ExponentPushToken[x]", Message{}))
	require.NoError(t, r.Send(ctx, `{"endpoint":"https://push.example/1"}`, Message{}))
	assert.ErrorIs(t, r.Send(ctx, "fcm-raw-token", Message{}), ErrUnsupportedToken)

	assert.Len(t, expo.all(), 1)
	assert.Len(t, web.all(), 1)
}

type expoRequest struct {
	To    []string          `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

func TestExpoSender(t *testing.T) {
	var (
		mu   sync.Mutex
		got  expoRequest
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []expoRequest
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil || len(batch) != 1 || len(batch[0].To) != 1 {
			http.Error(w, "bad batch", http.StatusBadRequest)
			return
		}
		mu.Lock()
		got, path = batch[0], r.URL.Path
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if batch[0].To[0] == "ExponentPushToken[dead]" {
			w.Write([]byte(`{"data":[{"status":"error","message":"gone","details":{"error":"DeviceNotRegistered"}}]}`))
			return
		}
		w.Write([]byte(`{"data":[{"status":"ok","id":"1"}]}`))
	}))
	defer srv.Close()

	e := NewExpo(srv.URL)
	ctx := context.Background()

	require.NoError(t, e.Send(ctx, "ExponentPushToken[ok]", Message{
		Title: "t",
		Body:  "b",
		Data:  map[string]any{"k": "v", "isLiveLocationTarget": true, "targetLat": 39.5},
	}))
	mu.Lock()
	assert.True(t, strings.HasSuffix(path, "/push/send"), path)
	assert.Equal(t, "t", got.Title)
	assert.Equal(t, "v", got.Data["k"])
	assert.Equal(t, "true", got.Data["isLiveLocationTarget"])
	assert.Equal(t, "39.5", got.Data["targetLat"])
	mu.Unlock()

	assert.ErrorIs(t, e.Send(ctx, "ExponentPushToken[dead]", Message{}), ErrTokenExpired)
	assert.ErrorIs(t, e.Send(ctx, "not-an-expo-token", Message{}), ErrUnsupportedToken)
}
