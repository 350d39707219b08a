package history

import (
	"context"
	"errors"
	"time"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
)

// CollectionName is the Mongo collection holding conversations.
const CollectionName = "conversations"

type conversationDoc struct {
	ID        string           `bson:"_id"`
	Messages  []domain.Message `bson:"messages"`
	UpdatedAt time.Time        `bson:"updated_at"`
}

// MongoStore keeps one document per conversation with a capped messages array.
type MongoStore struct {
	coll   *mongo.Collection
	window int
	now    func() time.Time
}

// NewMongoStore creates a store on db.conversations.
func NewMongoStore(db *mongo.Database, windowSize int) *MongoStore {
	return &MongoStore{coll: db.Collection(CollectionName), window: window(windowSize), now: time.Now}
}

// Load returns up to limit of the most recent messages.
func (s *MongoStore) Load(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	ctx, span := tracer.Start(ctx, "MongoStore.Load")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	var doc conversationDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "history", Err: err}
	}
	return tail(doc.Messages, limit), nil
}

// Append pushes msgs onto the conversation and keeps only the window.
func (s *MongoStore) Append(ctx context.Context, conversationID string, msgs ...domain.Message) error {
	ctx, span := tracer.Start(ctx, "MongoStore.Append")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	clean := Sanitize(msgs)
	if len(clean) == 0 {
		return nil
	}
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		appendUpdate(clean, s.window, s.now()),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return &domain.ErrExternalService{Service: "history", Err: err}
	}
	return nil
}

// appendUpdate builds the $push/$slice update that appends msgs and keeps
// the last window entries.
func appendUpdate(msgs []domain.Message, window int, now time.Time) bson.M {
	return bson.M{
		"$push": bson.M{
			"messages": bson.M{
				"$each":  msgs,
				"$slice": -window,
			},
		},
		"$set": bson.M{"updated_at": now},
	}
}

// Connect opens a Mongo client and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "mongo", Err: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, &domain.ErrExternalService{Service: "mongo", Err: err}
	}
	return client, nil
}
