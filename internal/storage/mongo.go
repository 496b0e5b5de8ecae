package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gembalance-go/internal/gberrors"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCollection = "api_keys"

// MongoBackend stores credential records in a MongoDB collection with a
// unique index on the key value.
type MongoBackend struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type mongoRecord struct {
	Key          string    `bson:"key"`
	Enabled      bool      `bson:"enabled"`
	FailureCount int       `bson:"failure_count"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// NewMongoBackend connects to MongoDB and ensures indexes.
func NewMongoBackend(ctx context.Context, uri, dbName string) (*MongoBackend, error) {
	if dbName == "" {
		dbName = "gembalance"
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetMaxPoolSize(10)
	clientOptions.SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	coll := client.Database(dbName).Collection(mongoCollection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create index: %w", err)
	}
	log.WithField("database", dbName).Info("connected to MongoDB storage backend")
	return &MongoBackend{client: client, collection: coll}, nil
}

func (m *MongoBackend) LoadAll(ctx context.Context) ([]Record, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	cursor, err := m.collection.Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "key", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	defer cursor.Close(ctx)

	var out []Record
	for cursor.Next(ctx) {
		var doc mongoRecord
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode credential: %w", err)
		}
		out = append(out, doc.toRecord())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor iteration error: %w", err)
	}
	return out, nil
}

func (m *MongoBackend) Get(ctx context.Context, value string) (*Record, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	var doc mongoRecord
	err := m.collection.FindOne(ctx, bson.M{"key": value}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", gberrors.ErrCredentialNotFound, value)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	rec := doc.toRecord()
	return &rec, nil
}

func (m *MongoBackend) UpsertIfAbsent(ctx context.Context, value string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	now := time.Now()
	_, err := m.collection.UpdateOne(ctx,
		bson.M{"key": value},
		bson.M{"$setOnInsert": mongoRecord{
			Key:       value,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		}},
		options.Update().SetUpsert(true))
	// A duplicate-key error here means a concurrent seeder won the insert
	// race, which counts as success.
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (m *MongoBackend) UpdateFailure(ctx context.Context, value string, newCount int, enabled bool) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"key": value},
		bson.M{"$set": bson.M{
			"failure_count": newCount,
			"enabled":       enabled,
			"updated_at":    time.Now(),
		}})
	if err != nil {
		return fmt.Errorf("update failure state: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", gberrors.ErrCredentialNotFound, value)
	}
	return nil
}

func (m *MongoBackend) BulkReset(ctx context.Context) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	_, err := m.collection.UpdateMany(ctx, bson.D{},
		bson.M{"$set": bson.M{
			"failure_count": 0,
			"enabled":       true,
			"updated_at":    time.Now(),
		}})
	if err != nil {
		return fmt.Errorf("bulk reset: %w", err)
	}
	return nil
}

func (m *MongoBackend) Health(ctx context.Context) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (d mongoRecord) toRecord() Record {
	return Record{
		Value:        d.Key,
		Enabled:      d.Enabled,
		FailureCount: d.FailureCount,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}
