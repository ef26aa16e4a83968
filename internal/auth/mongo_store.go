package auth

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoUserStore backs UserStore with a MongoDB collection of
// {name, pubkey, flags} documents.
type MongoUserStore struct {
	collection *mongo.Collection
	timeout    time.Duration
}

// MongoConfig describes the connection target for MongoUserStore.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// NewMongoUserStore connects to uri and verifies connectivity. A failed
// dial here is fatal to startup when Mongo is the configured auth backend.
func NewMongoUserStore(cfg MongoConfig) (*MongoUserStore, error) {
	if cfg.Database == "" {
		cfg.Database = "qmaster"
	}
	if cfg.Collection == "" {
		cfg.Collection = "users"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("auth: connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("auth: pinging mongo: %w", err)
	}

	return &MongoUserStore{
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		timeout:    5 * time.Second,
	}, nil
}

type mongoUserDoc struct {
	Name   string `bson:"name"`
	Pubkey string `bson:"pubkey"`
	Flags  string `bson:"flags"`
}

// Lookup implements UserStore.
func (s *MongoUserStore) Lookup(userName string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var doc mongoUserDoc
	err := s.collection.FindOne(ctx, bson.M{"name": normalizeUser(userName)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", "", ErrUserNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("auth: querying mongo: %w", err)
	}
	return doc.Pubkey, doc.Flags, nil
}
