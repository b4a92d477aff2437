package store

import (
	"context"
	"errors"

	"nicmeup/models"
)

const (
	globalActivitiesID    = "allActivities"
	globalActivitiesField = "activities"
	globalActivitiesKeep  = 200
)

type Activities struct {
	docs Documents
}

func NewActivities(docs Documents) *Activities {
	return &Activities{docs: docs}
}

// AddForUser stores a per-user entry; ErrExists if that entry id is taken.
func (a *Activities) AddForUser(ctx context.Context, e *models.UserActivity) error {
	return a.docs.Create(ctx, UserActivityCollection, e)
}

// AppendGlobal adds to the single global feed document.
func (a *Activities) AppendGlobal(ctx context.Context, act models.Activity) error {
	return a.docs.Push(ctx, ActivitiesCollection, globalActivitiesID, globalActivitiesField, act, globalActivitiesKeep)
}

// Global returns the global feed oldest first.
func (a *Activities) Global(ctx context.Context) ([]models.Activity, error) {
	var doc struct {
		Activities []models.Activity `bson:"activities"`
	}
	raw, err := a.docs.Get(ctx, ActivitiesCollection, globalActivitiesID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := (Snapshot{Exists: true, Doc: raw}).Decode(&doc); err != nil {
		return nil, err
	}
	return doc.Activities, nil
}

// ForUser returns a user's entries newest first.
func (a *Activities) ForUser(ctx context.Context, userID string, limit int) ([]models.UserActivity, error) {
	var out []models.UserActivity
	q := Query{Where: Fields{"userId": userID}, OrderBy: "timestamp", Desc: true, Limit: limit}
	err := a.docs.Find(ctx, UserActivityCollection, q, &out)
	return out, err
}
