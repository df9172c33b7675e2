package repositories

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"globetales-service/internal/models"
)

const mongoOpTimeout = 5 * time.Second

type messageDocument struct {
	ID        primitive.ObjectID `bson:"_id"`
	Sender    primitive.ObjectID `bson:"sender"`
	Receiver  primitive.ObjectID `bson:"receiver"`
	Content   string             `bson:"content"`
	IsRead    bool               `bson:"isRead"`
	CreatedAt time.Time          `bson:"createdAt"`
}

func (d messageDocument) model() models.Message {
	return models.Message{
		ID:         d.ID.Hex(),
		SenderID:   d.Sender.Hex(),
		ReceiverID: d.Receiver.Hex(),
		Content:    d.Content,
		IsRead:     d.IsRead,
		CreatedAt:  d.CreatedAt,
	}
}

// MongoMessageRepo stores messages in the "messages" collection using the
// same document shape as the web client's backend.
type MongoMessageRepo struct {
	coll *mongo.Collection
}

// NewMongoMessageRepo constructs a MongoMessageRepo.
func NewMongoMessageRepo(db *mongo.Database) *MongoMessageRepo {
	return &MongoMessageRepo{coll: db.Collection("messages")}
}

// EnsureIndexes creates the indexes the queries below rely on.
func (r *MongoMessageRepo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "receiver", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	return err
}

// CreateMessage inserts msg; a fresh ObjectID replaces msg.ID.
func (r *MongoMessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	sender, receiver, err := objectIDs(msg.SenderID, msg.ReceiverID)
	if err != nil {
		return models.Message{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	doc := messageDocument{
		ID:        primitive.NewObjectID(),
		Sender:    sender,
		Receiver:  receiver,
		Content:   msg.Content,
		IsRead:    msg.IsRead,
		CreatedAt: msg.CreatedAt.UTC().Truncate(time.Millisecond),
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return models.Message{}, err
	}
	return doc.model(), nil
}

// ListBetween returns the pair's history ordered by creation.
func (r *MongoMessageRepo) ListBetween(ctx context.Context, userA, userB string, opts ListOptions) ([]models.Message, error) {
	a, b, err := objectIDs(userA, userB)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	filter := bson.M{"$or": []bson.M{
		{"sender": a, "receiver": b},
		{"sender": b, "receiver": a},
	}}
	findOpts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if opts.Paged() {
		if !opts.Before.IsZero() {
			filter["createdAt"] = bson.M{"$lt": opts.Before}
		}
		findOpts = options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(opts.Limit))
	}

	msgs, err := r.find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	if opts.Paged() {
		reverse(msgs)
	}
	return msgs, nil
}

// ListInvolving returns all messages touching userID, newest first.
func (r *MongoMessageRepo) ListInvolving(ctx context.Context, userID string) ([]models.Message, error) {
	id, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, ErrInvalidID
	}
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	filter := bson.M{"$or": []bson.M{{"sender": id}, {"receiver": id}}}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

// MarkRead marks the sender's unread messages to the reader as read.
func (r *MongoMessageRepo) MarkRead(ctx context.Context, readerID, senderID string) (int64, error) {
	reader, sender, err := objectIDs(readerID, senderID)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	res, err := r.coll.UpdateMany(ctx,
		bson.M{"sender": sender, "receiver": reader, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoMessageRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Message, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.Message{}
	for cur.Next(ctx) {
		var doc messageDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.model())
	}
	return out, cur.Err()
}

func objectIDs(a, b string) (primitive.ObjectID, primitive.ObjectID, error) {
	first, err := primitive.ObjectIDFromHex(a)
	if err != nil {
		return primitive.NilObjectID, primitive.NilObjectID, ErrInvalidID
	}
	second, err := primitive.ObjectIDFromHex(b)
	if err != nil {
		return primitive.NilObjectID, primitive.NilObjectID, ErrInvalidID
	}
	return first, second, nil
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
