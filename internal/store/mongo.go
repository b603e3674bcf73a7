package store

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// KVCollection is the collection holding one document per storage key.
const KVCollection = "kv"

type kvDocument struct {
	Key   string `bson:"_id"`
	Value string `bson:"value"`
}

// MongoBackend stores the value as a single document keyed by the storage key.
type MongoBackend struct {
	collection *mongo.Collection
	key        string
}

func NewMongoBackend(db *mongo.Database, key string) *MongoBackend {
	return &MongoBackend{
		collection: db.Collection(KVCollection),
		key:        key,
	}
}

func (m *MongoBackend) Read(ctx context.Context) ([]byte, error) {
	var doc kvDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": m.key}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrAbsent
		}
		return nil, err
	}
	return []byte(doc.Value), nil
}

func (m *MongoBackend) Write(ctx context.Context, data []byte) error {
	_, err := m.collection.ReplaceOne(ctx,
		bson.M{"_id": m.key},
		kvDocument{Key: m.key, Value: string(data)},
		options.Replace().SetUpsert(true),
	)
	return err
}
