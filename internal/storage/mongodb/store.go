package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/adiouf/wabridge/internal/domain/models"
	"github.com/adiouf/wabridge/internal/storage"
)

const collectionName = "messages"

// Store implements storage.MessageStore on top of MongoDB, for deployments
// where messages must survive restarts or be shared across instances.
type Store struct {
	client *mongo.Client
	dbName string
}

var _ storage.MessageStore = (*Store)(nil)

// NewStore connects to MongoDB and verifies the connection with a ping.
func NewStore(ctx context.Context, uri, dbName string) (*Store, error) {
	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &Store{client: client, dbName: dbName}, nil
}

func (s *Store) collection() *mongo.Collection {
	return s.client.Database(s.dbName).Collection(collectionName)
}

// StoreMessage upserts the message by its local id.
func (s *Store) StoreMessage(ctx context.Context, msg models.StoredMessage) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection().ReplaceOne(ctx, bson.M{"_id": msg.ID}, msg, opts)
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

// GetMessage returns the message with the given local id.
func (s *Store) GetMessage(ctx context.Context, id string) (models.StoredMessage, error) {
	var msg models.StoredMessage
	err := s.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.StoredMessage{}, storage.ErrNotFound
	}
	if err != nil {
		return models.StoredMessage{}, fmt.Errorf("failed to load message: %w", err)
	}
	return msg, nil
}

// GetMessages returns messages for one conversation ordered by timestamp.
// A negative offset is treated as zero.
func (s *Store) GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.StoredMessage, error) {
	if offset < 0 {
		offset = 0
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}).SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.collection().Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.StoredMessage
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return out, nil
}

// UpdateStatus moves the message to the given delivery status in place.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.DeliveryStatus) error {
	res, err := s.collection().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AttachProviderID records the provider message id on an existing record.
func (s *Store) AttachProviderID(ctx context.Context, id, providerMessageID string) error {
	res, err := s.collection().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"provider_message_id": providerMessageID}})
	if err != nil {
		return fmt.Errorf("failed to attach provider message id: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateStatusByProviderID applies a delivery receipt keyed by provider id.
func (s *Store) UpdateStatusByProviderID(ctx context.Context, providerMessageID string, status models.DeliveryStatus) error {
	_, err := s.collection().UpdateOne(ctx,
		bson.M{"provider_message_id": providerMessageID},
		bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return fmt.Errorf("failed to apply delivery receipt: %w", err)
	}
	return nil
}

// Search performs a case-insensitive substring match on message content.
func (s *Store) Search(ctx context.Context, query, conversationID string) ([]models.StoredMessage, error) {
	filter := bson.M{}
	if query != "" {
		filter["content"] = bson.M{"$regex": query, "$options": "i"}
	}
	if conversationID != "" {
		filter["conversation_id"] = conversationID
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.StoredMessage
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}
	return out, nil
}

// Cleanup deletes messages older than the cutoff and reports the count.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.collection().DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": olderThan}})
	if err != nil {
		return 0, fmt.Errorf("failed to clean up messages: %w", err)
	}
	return int(res.DeletedCount), nil
}

// Close closes the MongoDB connection.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
