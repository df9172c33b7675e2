package repositories

import (
	"context"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"globetales-service/internal/models"
)

type userDocument struct {
	ID             primitive.ObjectID `bson:"_id"`
	Username       string             `bson:"username"`
	Email          string             `bson:"email"`
	ProfilePicture string             `bson:"profilePicture"`
	Bio            string             `bson:"bio"`
	CreatedAt      time.Time          `bson:"createdAt"`
}

func (d userDocument) model() models.User {
	return models.User{
		ID:             d.ID.Hex(),
		Username:       d.Username,
		Email:          d.Email,
		ProfilePicture: d.ProfilePicture,
		Bio:            d.Bio,
		CreatedAt:      d.CreatedAt,
	}
}

// the password hash lives in the same document and must never be decoded here
var userProjection = bson.M{"password": 0}

// MongoUserRepo reads the "users" collection.
type MongoUserRepo struct {
	coll *mongo.Collection
}

// NewMongoUserRepo constructs a MongoUserRepo.
func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{coll: db.Collection("users")}
}

// GetUser fetches a single user. Malformed ids are reported as missing users.
func (r *MongoUserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	id, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return models.User{}, ErrUserNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var doc userDocument
	err = r.coll.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(userProjection)).Decode(&doc)
	if isNoDocuments(err) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	return doc.model(), nil
}

// BulkUsers fetches the users with the given ids; unknown or malformed ids are skipped.
func (r *MongoUserRepo) BulkUsers(ctx context.Context, ids []string) ([]models.User, error) {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return []models.User{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	return r.find(ctx, bson.M{"_id": bson.M{"$in": oids}}, options.Find().SetProjection(userProjection))
}

// SearchUsers matches query case-insensitively against username and email.
func (r *MongoUserRepo) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"}
	filter := bson.M{"$or": []bson.M{
		{"username": pattern},
		{"email": pattern},
	}}
	opts := options.Find().
		SetProjection(userProjection).
		SetSort(bson.D{{Key: "username", Value: 1}}).
		SetLimit(int64(limit))
	return r.find(ctx, filter, opts)
}

func (r *MongoUserRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.User, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	users := []models.User{}
	for cur.Next(ctx) {
		var doc userDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		users = append(users, doc.model())
	}
	return users, cur.Err()
}
