package store

import (
	"context"
	"errors"

	"nicmeup/models"
)

type Ratings struct {
	docs Documents
}

func NewRatings(docs Documents) *Ratings {
	return &Ratings{docs: docs}
}

// Get returns the aggregate for userID, zero valued if nobody rated them yet.
func (r *Ratings) Get(ctx context.Context, userID string) (*models.Rating, error) {
	rating, err := get[models.Rating](ctx, r.docs, RatingsCollection, userID)
	if errors.Is(err, ErrNotFound) {
		return &models.Rating{UserID: userID}, nil
	}
	return rating, err
}

func (r *Ratings) Merge(ctx context.Context, userID string, f Fields) error {
	return r.docs.Merge(ctx, RatingsCollection, userID, f)
}

// AddVote stores a rater's vote; ErrExists if they already voted on that session.
func (r *Ratings) AddVote(ctx context.Context, v *models.RatingVote) error {
	return r.docs.Create(ctx, RatingVotesCollection, v)
}
