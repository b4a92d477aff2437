package store

import (
	"context"
	"errors"

	"nicmeup/models"
)

type Sessions struct {
	docs Documents
}

func NewSessions(docs Documents) *Sessions {
	return &Sessions{docs: docs}
}

func (s *Sessions) Create(ctx context.Context, sess *models.Session) error {
	return s.docs.Create(ctx, SessionsCollection, sess)
}

func (s *Sessions) Get(ctx context.Context, id string) (*models.Session, error) {
	return get[models.Session](ctx, s.docs, SessionsCollection, id)
}

// UpdateActive applies f only while the session is active. An inactive
// session is terminal, so the write fails with ErrSessionInactive.
func (s *Sessions) UpdateActive(ctx context.Context, id string, f Fields) error {
	return s.UpdateIf(ctx, id, Fields{"active": true}, f)
}

// UpdateIf is UpdateActive with extra conditions.
func (s *Sessions) UpdateIf(ctx context.Context, id string, cond, f Fields) error {
	if _, ok := cond["active"]; !ok {
		c := make(Fields, len(cond)+1)
		for k, v := range cond {
			c[k] = v
		}
		c["active"] = true
		cond = c
	}
	err := s.docs.UpdateIf(ctx, SessionsCollection, id, cond, f)
	if errors.Is(err, ErrConditionFailed) {
		return s.explain(ctx, id)
	}
	return err
}

// Claim sets the recipient if nobody has claimed the session yet.
// The first claim wins; later ones get ErrAlreadyClaimed.
func (s *Sessions) Claim(ctx context.Context, id, recipientID string, f Fields) error {
	merged := Fields{"recipientId": recipientID}
	for k, v := range f {
		merged[k] = v
	}
	return s.UpdateIf(ctx, id, Fields{"recipientId": ""}, merged)
}

func (s *Sessions) Delete(ctx context.Context, id string) error {
	return s.docs.Delete(ctx, SessionsCollection, id)
}

// Active lists every session that has not reached a terminal state.
func (s *Sessions) Active(ctx context.Context) ([]models.Session, error) {
	var out []models.Session
	err := s.docs.Find(ctx, SessionsCollection, Query{Where: Fields{"active": true}, OrderBy: "createdAt"}, &out)
	return out, err
}

// ByRequester lists a requester's sessions, newest first.
func (s *Sessions) ByRequester(ctx context.Context, requesterID string, activeOnly bool) ([]models.Session, error) {
	where := Fields{"requesterId": requesterID}
	if activeOnly {
		where["active"] = true
	}
	var out []models.Session
	err := s.docs.Find(ctx, SessionsCollection, Query{Where: where, OrderBy: "createdAt", Desc: true}, &out)
	return out, err
}

func (s *Sessions) Watch(ctx context.Context, id string) (<-chan Event[models.Session], error) {
	return watch[models.Session](ctx, s.docs, SessionsCollection, id)
}

// explain turns a failed conditional write into the reason it failed.
func (s *Sessions) explain(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !sess.Active {
		return ErrSessionInactive
	}
	if sess.RecipientID != "" {
		return ErrAlreadyClaimed
	}
	return ErrConditionFailed
}
