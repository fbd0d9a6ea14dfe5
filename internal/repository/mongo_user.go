package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/studysync/studysync-go/internal/model"
)

const usersCollection = "users"

type mongoUser struct {
	ID         primitive.ObjectID `bson:"_id"`
	Name       string             `bson:"name"`
	Email      string             `bson:"email"`
	Password   string             `bson:"password"`
	IsVerified bool               `bson:"isVerified"`
	Stats      model.Stats        `bson:"stats"`
	CreatedAt  time.Time          `bson:"createdAt"`
	LastLogin  time.Time          `bson:"lastLogin,omitempty"`
}

func (m *mongoUser) toModel() *model.User {
	return &model.User{
		ID:           m.ID.Hex(),
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.Password,
		IsVerified:   m.IsVerified,
		Stats:        m.Stats,
		CreatedAt:    m.CreatedAt,
		LastLogin:    m.LastLogin,
	}
}

// MongoUserStore stores users in the "users" collection.
type MongoUserStore struct {
	db   *mongo.Database
	coll *mongo.Collection
}

// NewMongoUserStore returns a store on db.
func NewMongoUserStore(db *mongo.Database) *MongoUserStore {
	return &MongoUserStore{db: db, coll: db.Collection(usersCollection)}
}

func (s *MongoUserStore) Name() string { return "mongo" }

func (s *MongoUserStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// EnsureIndexes creates the unique email index InsertIfAbsent relies on.
func (s *MongoUserStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetName("email_unique").SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("creating users email index: %w", err)
	}
	return nil
}

func (s *MongoUserStore) InsertIfAbsent(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = NewID()
	}
	oid, err := primitive.ObjectIDFromHex(u.ID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", u.ID, err)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Email = NormalizeEmail(u.Email)

	doc := mongoUser{
		ID:         oid,
		Name:       u.Name,
		Email:      u.Email,
		Password:   u.PasswordHash,
		IsVerified: u.IsVerified,
		Stats:      u.Stats,
		CreatedAt:  u.CreatedAt,
		LastLogin:  u.LastLogin,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *MongoUserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findOne(ctx, bson.M{"email": NormalizeEmail(email)})
}

func (s *MongoUserStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

func (s *MongoUserStore) UpdateStats(ctx context.Context, id string, delta map[string]int) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrUserNotFound
	}
	delta = knownStats(delta)
	if len(delta) == 0 {
		_, err := s.findOne(ctx, bson.M{"_id": oid})
		return err
	}

	inc := bson.M{}
	for name, n := range delta {
		inc["stats."+name] = n
	}
	return s.updateOne(ctx, bson.M{"_id": oid}, bson.M{"$inc": inc})
}

func (s *MongoUserStore) UpdateVerification(ctx context.Context, email string) error {
	return s.updateOne(ctx,
		bson.M{"email": NormalizeEmail(email)},
		bson.M{"$set": bson.M{"isVerified": true}},
	)
}

func (s *MongoUserStore) UpdateLastLogin(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrUserNotFound
	}
	return s.updateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"lastLogin": time.Now().UTC()}},
	)
}

func (s *MongoUserStore) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var doc mongoUser
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return doc.toModel(), nil
}

func (s *MongoUserStore) updateOne(ctx context.Context, filter, update bson.M) error {
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}
