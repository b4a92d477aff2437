package rating

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"nicmeup/clock"
	"nicmeup/logging"
	"nicmeup/models"
	"nicmeup/store"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	sessions *store.Sessions
	ratings  *store.Ratings
}

func newFixture() *fixture {
	docs := store.NewMemory()
	f := &fixture{sessions: store.NewSessions(docs), ratings: store.NewRatings(docs)}
	f.svc = NewService(f.ratings, f.sessions, clock.NewFake(t0), logging.Nop())
	return f
}

// session stores a finished rendezvous between requester and recipient.
func (f *fixture) session(t require.TestingT, id, requester, recipient string, status models.SessionStatus) {
	require.NoError(t, f.sessions.Create(context.Background(), &models.Session{
		ID:          id,
		RequesterID: requester,
		RecipientID: recipient,
		Status:      status,
		CreatedAt:   t0,
		UpdatedAt:   t0,
	}))
}

func TestSubmitKeepsRunningMean(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	stars := []int{5, 3, 4, 1, 5, 2}
	sum := 0
	for i, v := range stars {
		id := fmt.Sprintf("s%d", i)
		f.session(t, id, "rater", "target", models.StatusCompleted)
		_, err := f.svc.Submit(ctx, "rater", id, "target", v)
		require.NoError(t, err)
		sum += v
	}

	got, err := f.svc.Get(ctx, "target")
	require.NoError(t, err)
	assert.Equal(t, len(stars), got.Count)
	assert.Equal(t, sum, got.Sum)
	assert.InDelta(t, float64(sum)/float64(len(stars)), got.Average, 1e-9)
}

func TestSubmitMeanOverAnySequence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		stars := rapid.SliceOfN(rapid.IntRange(1, 5), 1, 30).Draw(t, "stars")
		f := newFixture()
		ctx := context.Background()

		sum := 0
		for i, v := range stars {
			id := fmt.Sprintf("s%d", i)
			// alternate which side asked for help
			if i%2 == 0 {
				f.session(t, id, "target", "rater", models.StatusCompleted)
			} else {
				f.session(t, id, "rater", "target", models.StatusCompleted)
			}
			_, err := f.svc.Submit(ctx, "rater", id, "target", v)
			require.NoError(t, err)
			sum += v
		}

		got, err := f.svc.Get(ctx, "target")
		require.NoError(t, err)
		assert.Equal(t, len(stars), got.Count)
		assert.Equal(t, sum, got.Sum)
		assert.InDelta(t, float64(sum)/float64(len(stars)), got.Average, 1e-9)
	})
}

func TestSubmitOrderDoesNotMatter(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		stars := rapid.SliceOfN(rapid.IntRange(1, 5), 1, 20).Draw(t, "stars")
		shuffled := rapid.Permutation(stars).Draw(t, "shuffled")
		ctx := context.Background()

		average := func(seq []int) float64 {
			f := newFixture()
			for i, v := range seq {
				id := fmt.Sprintf("s%d", i)
				f.session(t, id, "r", "t", models.StatusCompleted)
				_, err := f.svc.Submit(ctx, "r", id, "t", v)
				require.NoError(t, err)
			}
			got, err := f.svc.Get(ctx, "t")
			require.NoError(t, err)
			return got.Average
		}
		assert.InDelta(t, average(stars), average(shuffled), 1e-9)
	})
}

func TestSubmitValidates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.session(t, "done", "r", "t", models.StatusCompleted)

	for _, v := range []int{0, 6, -1} {
		_, err := f.svc.Submit(ctx, "r", "done", "t", v)
		assert.ErrorIs(t, err, ErrInvalidStars)
	}
	_, err := f.svc.Submit(ctx, "t", "done", "t", 5)
	assert.ErrorIs(t, err, ErrSelfRating)

	got, err := f.svc.Get(ctx, "t")
	require.NoError(t, err)
	assert.Zero(t, got.Count)
}

func TestSubmitNeedsCompletedSessionWithTarget(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.session(t, "live", "r", "t", models.StatusMatched)
	f.session(t, "canceled", "r", "t", models.StatusCanceled)
	f.session(t, "done", "r", "t", models.StatusCompleted)

	_, err := f.svc.Submit(ctx, "r", "missing", "t", 5)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.svc.Submit(ctx, "r", "live", "t", 5)
	assert.ErrorIs(t, err, ErrNotCompleted)
	_, err = f.svc.Submit(ctx, "r", "canceled", "t", 5)
	assert.ErrorIs(t, err, ErrNotCompleted)

	// outsiders and third parties cannot use someone else's session
	_, err = f.svc.Submit(ctx, "stranger", "done", "t", 1)
	assert.ErrorIs(t, err, ErrNotPartner)
	_, err = f.svc.Submit(ctx, "r", "done", "stranger", 1)
	assert.ErrorIs(t, err, ErrNotPartner)

	got, err := f.svc.Get(ctx, "t")
	require.NoError(t, err)
	assert.Zero(t, got.Count)
}

func TestSubmitOncePerRaterPerSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.session(t, "done", "r", "t", models.StatusCompleted)

	_, err := f.svc.Submit(ctx, "r", "done", "t", 4)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, "r", "done", "t", 1)
	assert.ErrorIs(t, err, ErrAlreadyRated)

	// the other side still gets its own vote
	_, err = f.svc.Submit(ctx, "t", "done", "r", 5)
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, 4.0, got.Average)
}
