package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nicmeup/geo"
)

// Mongo implements Documents on a mongo database. Watch relies on change
// streams, so the server must run as a replica set.
type Mongo struct {
	db  *mongo.Database
	log zerolog.Logger
}

func NewMongo(db *mongo.Database, log zerolog.Logger) *Mongo {
	return &Mongo{db: db, log: log}
}

// EnsureIndexes creates the indexes the queries in this package depend on.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		UsersCollection: {
			{Keys: bson.D{{Key: ProfileGeoField, Value: "2dsphere"}}},
			{Keys: bson.D{{Key: "email", Value: 1}}},
			{Keys: bson.D{{Key: LinkageSessionIDField, Value: 1}}},
		},
		SessionsCollection: {
			{Keys: bson.D{{Key: "active", Value: 1}}},
			{Keys: bson.D{{Key: "requesterId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		MessagesCollection: {
			{Keys: bson.D{{Key: "threadId", Value: 1}, {Key: "sentAt", Value: 1}}},
		},
		UserActivityCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "timestamp", Value: -1}}},
		},
	}

	for coll, idx := range indexes {
		if _, err := m.db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

func (m *Mongo) Get(ctx context.Context, coll, id string) (bson.Raw, error) {
	raw, err := m.db.Collection(coll).FindOne(ctx, bson.M{"_id": id}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	return raw, err
}

func (m *Mongo) Create(ctx context.Context, coll string, doc any) error {
	_, err := m.db.Collection(coll).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrExists
	}
	return err
}

func (m *Mongo) Merge(ctx context.Context, coll, id string, f Fields) error {
	_, err := m.db.Collection(coll).UpdateOne(ctx, bson.M{"_id": id}, updateDoc(f), options.Update().SetUpsert(true))
	return err
}

func (m *Mongo) Update(ctx context.Context, coll, id string, f Fields) error {
	res, err := m.db.Collection(coll).UpdateOne(ctx, bson.M{"_id": id}, updateDoc(f))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) UpdateIf(ctx context.Context, coll, id string, cond, f Fields) error {
	filter := bson.M{"_id": id}
	for k, v := range cond {
		filter[k] = v
	}

	c := m.db.Collection(coll)
	res, err := c.UpdateOne(ctx, filter, updateDoc(f))
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := c.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConditionFailed
}

func (m *Mongo) Push(ctx context.Context, coll, id, field string, value any, keep int) error {
	each := bson.M{"$each": bson.A{value}}
	if keep > 0 {
		each["$slice"] = -keep
	}
	_, err := m.db.Collection(coll).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$push": bson.M{field: each}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *Mongo) Delete(ctx context.Context, coll, id string) error {
	res, err := m.db.Collection(coll).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) Find(ctx context.Context, coll string, q Query, out any) error {
	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	filter := bson.M{}
	for k, v := range q.Where {
		filter[k] = v
	}

	cursor, err := m.db.Collection(coll).Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

func (m *Mongo) Near(ctx context.Context, coll, field string, center geo.Point, radiusMeters float64, limit int, out any) error {
	filter := bson.M{
		field: bson.M{
			"$geoWithin": bson.M{
				"$centerSphere": bson.A{
					bson.A{center.Longitude, center.Latitude},
					radiusMeters / geo.EarthRadiusMeters,
				},
			},
		},
	}
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.db.Collection(coll).Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

type changeEvent struct {
	OperationType string   `bson:"operationType"`
	FullDocument  bson.Raw `bson:"fullDocument"`
}

func (m *Mongo) Watch(ctx context.Context, coll, id string) (<-chan Snapshot, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: id}}}},
	}
	// Open the stream before reading the current state so no change falls in between.
	stream, err := m.db.Collection(coll).Watch(ctx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("watch %s/%s: %w", coll, id, err)
	}

	initial := Snapshot{ID: id}
	raw, err := m.Get(ctx, coll, id)
	switch {
	case err == nil:
		initial = Snapshot{ID: id, Exists: true, Doc: raw}
	case !errors.Is(err, ErrNotFound):
		stream.Close(context.Background())
		return nil, err
	}

	out := make(chan Snapshot)
	go func() {
		defer close(out)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stream.Close(closeCtx)
		}()

		send := func(s Snapshot) bool {
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(initial) {
			return
		}
		for stream.Next(ctx) {
			var ev changeEvent
			if err := stream.Decode(&ev); err != nil {
				m.log.Warn().Err(err).Str("collection", coll).Str("id", id).Msg("decode change event")
				continue
			}
			snap := Snapshot{ID: id}
			if ev.OperationType != "delete" && len(ev.FullDocument) > 0 {
				snap.Exists = true
				snap.Doc = ev.FullDocument
			}
			if !send(snap) {
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			m.log.Error().Err(err).Str("collection", coll).Str("id", id).Msg("change stream ended")
		}
	}()
	return out, nil
}

func updateDoc(f Fields) bson.M {
	set := bson.M{}
	inc := bson.M{}
	for k, v := range f {
		if i, ok := v.(Inc); ok {
			inc[k] = i.By
			continue
		}
		set[k] = v
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	return update
}
