// Package store is the document store the rendezvous protocol runs on.
//
// Documents are addressed by collection and string id, mutated with partial
// merge-writes, and observed through per-document watch streams. Two
// implementations exist: Mongo for production and Memory for tests and local
// development. Typed repositories (Users, Sessions, ...) sit on top.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"nicmeup/geo"
)

// Collection names.
const (
	UsersCollection        = "users"
	SessionsCollection     = "nicSessions"
	ChatsCollection        = "chats"
	MessagesCollection     = "chat_messages"
	ActivitiesCollection   = "recentActivities"
	UserActivityCollection = "userActivities"
	RatingsCollection      = "ratings"
	RatingVotesCollection  = "ratingVotes"
	AppConfigCollection    = "appConfig"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrExists          = errors.New("store: already exists")
	ErrConditionFailed = errors.New("store: condition failed")
	ErrAlreadyClaimed  = errors.New("store: session already claimed")
	ErrSessionInactive = errors.New("store: session inactive")
)

// Fields is a partial merge-write keyed by dotted field path.
type Fields map[string]any

// Inc increments a numeric field instead of overwriting it.
type Inc struct {
	By int
}

// Query selects documents by field equality.
type Query struct {
	Where   Fields
	OrderBy string
	Desc    bool
	Limit   int
}

// Snapshot is the full state of one document after a change.
type Snapshot struct {
	ID     string
	Exists bool
	Doc    bson.Raw
}

// Decode unmarshals the snapshot into out.
func (s Snapshot) Decode(out any) error {
	if !s.Exists {
		return ErrNotFound
	}
	return bson.Unmarshal(s.Doc, out)
}

// Documents is the document store contract.
type Documents interface {
	// Get returns the raw document or ErrNotFound.
	Get(ctx context.Context, coll, id string) (bson.Raw, error)
	// Create inserts doc, whose _id must be set; ErrExists if taken.
	Create(ctx context.Context, coll string, doc any) error
	// Merge applies f, creating the document if missing.
	Merge(ctx context.Context, coll, id string, f Fields) error
	// Update applies f to an existing document.
	Update(ctx context.Context, coll, id string, f Fields) error
	// UpdateIf applies f only when every field in cond is equal.
	// It returns ErrConditionFailed when the document exists but does not match.
	UpdateIf(ctx context.Context, coll, id string, cond, f Fields) error
	// Push appends value to an array field, creating the document if missing,
	// and trims the array to the newest keep entries when keep > 0.
	Push(ctx context.Context, coll, id, field string, value any, keep int) error
	Delete(ctx context.Context, coll, id string) error
	// Find decodes the matching documents into out, a pointer to a slice.
	Find(ctx context.Context, coll string, q Query, out any) error
	// Near decodes into out every document with a point in field within radius of center.
	Near(ctx context.Context, coll, field string, center geo.Point, radiusMeters float64, limit int, out any) error
	// Watch streams snapshots of one document, starting with its current state.
	// The channel closes when ctx ends.
	Watch(ctx context.Context, coll, id string) (<-chan Snapshot, error)
}

// Event is a typed document snapshot.
type Event[T any] struct {
	Doc    *T
	Exists bool
	Err    error
}

func get[T any](ctx context.Context, docs Documents, coll, id string) (*T, error) {
	raw, err := docs.Get(ctx, coll, id)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := bson.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// watch decodes raw snapshots into typed events.
func watch[T any](ctx context.Context, docs Documents, coll, id string) (<-chan Event[T], error) {
	src, err := docs.Watch(ctx, coll, id)
	if err != nil {
		return nil, err
	}

	out := make(chan Event[T])
	go func() {
		defer close(out)
		for snap := range src {
			ev := Event[T]{Exists: snap.Exists}
			if snap.Exists {
				doc := new(T)
				if err := snap.Decode(doc); err != nil {
					ev.Err = err
				} else {
					ev.Doc = doc
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				// drain so the source can exit
				for range src {
				}
				return
			}
		}
	}()
	return out, nil
}
