package rating

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

var (
	ErrInvalidStars = errors.New("rating: stars must be between 1 and 5")
	ErrSelfRating   = errors.New("rating: cannot rate yourself")
	ErrNotCompleted = errors.New("rating: session has not been completed")
	ErrNotPartner   = errors.New("rating: only the other participant of the session can be rated")
	ErrAlreadyRated = errors.New("rating: already rated for this session")
)

type Service struct {
	ratings  *store.Ratings
	sessions *store.Sessions
	clock    clock.Clock
	log      zerolog.Logger
}

func NewService(ratings *store.Ratings, sessions *store.Sessions, c clock.Clock, log zerolog.Logger) *Service {
	return &Service{ratings: ratings, sessions: sessions, clock: c, log: logging.Component(log, "rating")}
}

// Submit lets raterID score the other participant of a completed session,
// once per session, and folds stars into targetID's running aggregate. The
// sum and count are written first and the average follows as a second
// write, so a reader can briefly see an average that lags the count.
func (s *Service) Submit(ctx context.Context, raterID, sessionID, targetID string, stars int) (*models.Rating, error) {
	if stars < 1 || stars > 5 {
		return nil, ErrInvalidStars
	}
	if raterID == targetID {
		return nil, ErrSelfRating
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, ok := sess.RoleOf(raterID); !ok || sess.Other(raterID) != targetID {
		return nil, ErrNotPartner
	}
	if sess.Status != models.StatusCompleted {
		return nil, ErrNotCompleted
	}

	err = s.ratings.AddVote(ctx, &models.RatingVote{
		ID:        models.RatingVoteID(sessionID, raterID),
		SessionID: sessionID,
		RaterID:   raterID,
		TargetID:  targetID,
		Stars:     stars,
		CreatedAt: s.clock.Now(),
	})
	if errors.Is(err, store.ErrExists) {
		return nil, ErrAlreadyRated
	}
	if err != nil {
		return nil, fmt.Errorf("record vote: %w", err)
	}

	current, err := s.ratings.Get(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("read rating: %w", err)
	}

	next := models.Rating{
		UserID: targetID,
		Sum:    current.Sum + stars,
		Count:  current.Count + 1,
	}
	if err := s.ratings.Merge(ctx, targetID, store.Fields{"sum": next.Sum, "count": next.Count}); err != nil {
		return nil, fmt.Errorf("write rating: %w", err)
	}

	next.Average = float64(next.Sum) / float64(next.Count)
	if err := s.ratings.Merge(ctx, targetID, store.Fields{"average": next.Average}); err != nil {
		return nil, fmt.Errorf("write average: %w", err)
	}

	s.log.Debug().Str(logging.USER, targetID).Str(logging.SESSION, sessionID).Int("stars", stars).Float64("average", next.Average).Msg("rating submitted")
	return &next, nil
}

func (s *Service) Get(ctx context.Context, userID string) (*models.Rating, error) {
	return s.ratings.Get(ctx, userID)
}
