package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is a MongoDB implementation of Checkpointer.
//
// Each checkpoint is one document keyed by "<thread>:<step>". MongoStore also
// implements HistoryReader, Deleter and Lister.
type MongoStore struct {
	coll *mongo.Collection
}

type mongoCheckpointDoc struct {
	ID          string    `bson:"_id"`
	ThreadID    string    `bson:"thread_id"`
	Step        int       `bson:"step"`
	Interrupted bool      `bson:"interrupted"`
	Payload     string    `bson:"payload"`
	SavedAt     time.Time `bson:"saved_at"`
}

// NewMongoStore creates a Mongo-backed checkpointer and ensures its index.
// dbName defaults to "stategraph" if empty, collName defaults to
// "checkpoints".
func NewMongoStore(ctx context.Context, client *mongo.Client, dbName, collName string) (*MongoStore, error) {
	if dbName == "" {
		dbName = "stategraph"
	}
	if collName == "" {
		collName = "checkpoints"
	}

	coll := client.Database(dbName).Collection(collName)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "step", Value: -1}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &MongoStore{coll: coll}, nil
}

func mongoID(threadID string, step int) string {
	return threadID + ":" + strconv.Itoa(step)
}

// Save stores cp, replacing any checkpoint with the same thread and step.
func (s *MongoStore) Save(ctx context.Context, cp Checkpoint) error {
	if cp.ThreadID == "" {
		return errMissingThread
	}
	data, err := encode(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	doc := mongoCheckpointDoc{
		ID:          mongoID(cp.ThreadID, cp.Step),
		ThreadID:    cp.ThreadID,
		Step:        cp.Step,
		Interrupted: cp.Interrupted,
		Payload:     string(data),
		SavedAt:     time.Now().UTC(),
	}
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint with the highest step of threadID.
func (s *MongoStore) Load(ctx context.Context, threadID string) (Checkpoint, error) {
	var doc mongoCheckpointDoc
	err := s.coll.FindOne(ctx,
		bson.M{"thread_id": threadID},
		options.FindOne().SetSort(bson.D{{Key: "step", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decode([]byte(doc.Payload))
}

// History returns up to limit checkpoints of threadID, newest first.
func (s *MongoStore) History(ctx context.Context, threadID string, limit int) ([]Checkpoint, error) {
	opts := options.Find().SetSort(bson.D{{Key: "step", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.coll.Find(ctx, bson.M{"thread_id": threadID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	var docs []mongoCheckpointDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	out := make([]Checkpoint, 0, len(docs))
	for _, doc := range docs {
		cp, err := decode([]byte(doc.Payload))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Delete removes every checkpoint of threadID.
func (s *MongoStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{"thread_id": threadID}); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

// Threads returns every thread id with a checkpoint, sorted.
func (s *MongoStore) Threads(ctx context.Context) ([]string, error) {
	values, err := s.coll.Distinct(ctx, "thread_id", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
