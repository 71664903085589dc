package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"loanflow/pkg/models"
)

// MongoDocumentStore is a MongoDB implementation of DocumentStore.
type MongoDocumentStore struct {
	client *mongo.Client
	col    *mongo.Collection
}

// ConnectMongo connects to MongoDB and returns a document store bound to
// database.collection. The store owns the client.
func ConnectMongo(ctx context.Context, uri, database, collection string) (*MongoDocumentStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return NewMongoDocumentStore(client, database, collection), nil
}

// NewMongoDocumentStore wraps an existing client.
func NewMongoDocumentStore(client *mongo.Client, database, collection string) *MongoDocumentStore {
	return &MongoDocumentStore{
		client: client,
		col:    client.Database(database).Collection(collection),
	}
}

// Migrate creates the unique message id index that makes redelivery
// detectable.
func (s *MongoDocumentStore) Migrate(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create message_id index: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *MongoDocumentStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoDocumentStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Put stores a new intake document.
func (s *MongoDocumentStore) Put(ctx context.Context, doc *models.IntakeDocument) error {
	if doc.ID == "" {
		return errors.New("document id is required")
	}
	if _, err := s.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("document %s: %w", doc.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
	}
	return nil
}

// Get retrieves a document by id.
func (s *MongoDocumentStore) Get(ctx context.Context, id string) (*models.IntakeDocument, error) {
	return s.findOne(ctx, bson.M{"_id": id}, id)
}

// FindByMessageID retrieves the document stored for a queue message.
func (s *MongoDocumentStore) FindByMessageID(ctx context.Context, messageID string) (*models.IntakeDocument, error) {
	return s.findOne(ctx, bson.M{"message_id": messageID}, messageID)
}

func (s *MongoDocumentStore) findOne(ctx context.Context, filter bson.M, key string) (*models.IntakeDocument, error) {
	var doc models.IntakeDocument
	err := s.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("document %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", key, err)
	}
	return &doc, nil
}
