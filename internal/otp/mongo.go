package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/studysync/studysync-go/internal/model"
)

// CollectionName is the collection holding live challenges, keyed by email.
const CollectionName = "otp_challenges"

// MongoStore persists challenges in MongoDB. Writes that follow a read are
// conditioned on the challenge's createdAt so they never touch a newer
// challenge issued in between.
type MongoStore struct {
	coll        *mongo.Collection
	maxAttempts int
	retention   time.Duration
	now         func() time.Time
}

const ttlIndexName = "expiresAt_ttl"

// NewMongoStore returns a store backed by the otp_challenges collection of db.
// Expired challenges stay readable for retention so late submissions still
// report expiry.
func NewMongoStore(db *mongo.Database, maxAttempts int, retention time.Duration) *MongoStore {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if retention < 0 {
		retention = DefaultRetention
	}
	return &MongoStore{
		coll:        db.Collection(CollectionName),
		maxAttempts: maxAttempts,
		retention:   retention,
		now:         time.Now,
	}
}

// EnsureIndexes creates the TTL index that lets MongoDB drop expired
// challenges on its own once the retention window has passed. An index left
// with different options by an earlier deployment is replaced.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	index := mongo.IndexModel{
		Keys: bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().
			SetName(ttlIndexName).
			SetExpireAfterSeconds(int32(s.retention / time.Second)),
	}
	_, err := s.coll.Indexes().CreateOne(ctx, index)
	if isIndexConflict(err) {
		if _, err = s.coll.Indexes().DropOne(ctx, ttlIndexName); err != nil {
			return fmt.Errorf("dropping stale otp ttl index: %w", err)
		}
		_, err = s.coll.Indexes().CreateOne(ctx, index)
	}
	if err != nil {
		return fmt.Errorf("creating otp ttl index: %w", err)
	}
	return nil
}

// isIndexConflict matches IndexOptionsConflict (85) and IndexKeySpecsConflict (86).
func isIndexConflict(err error) bool {
	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return cmdErr.HasErrorCode(85) || cmdErr.HasErrorCode(86)
}

func (s *MongoStore) Put(ctx context.Context, c model.Challenge) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": c.Email}, c, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("storing challenge: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, email string) (*model.Challenge, error) {
	c, err := s.find(ctx, email)
	if err != nil {
		return nil, err
	}
	if c.Expired(s.now()) {
		if err := s.deleteExact(ctx, c); err != nil {
			return nil, err
		}
		return nil, ErrChallengeNotFound
	}
	return c, nil
}

func (s *MongoStore) Verify(ctx context.Context, email, code string, purpose model.Purpose) (*model.Challenge, error) {
	c, err := s.find(ctx, email)
	if err != nil {
		return nil, err
	}
	if c.Purpose != purpose {
		return nil, ErrPurposeMismatch
	}
	if c.Expired(s.now()) {
		if err := s.deleteExact(ctx, c); err != nil {
			return nil, err
		}
		return nil, ErrChallengeExpired
	}
	if c.Attempts >= s.maxAttempts {
		if err := s.deleteExact(ctx, c); err != nil {
			return nil, err
		}
		return nil, ErrAttemptsExceeded
	}

	if subtle.ConstantTimeCompare([]byte(c.Code), []byte(code)) != 1 {
		return nil, s.recordFailure(ctx, c)
	}

	// Consume only if nobody else did and the attempt budget still holds.
	res, err := s.coll.DeleteOne(ctx, bson.M{
		"_id":       c.Email,
		"createdAt": c.CreatedAt,
		"attempts":  bson.M{"$lt": s.maxAttempts},
	})
	if err != nil {
		return nil, fmt.Errorf("consuming challenge: %w", err)
	}
	if res.DeletedCount != 1 {
		return nil, ErrChallengeNotFound
	}
	return c, nil
}

func (s *MongoStore) recordFailure(ctx context.Context, c *model.Challenge) error {
	var updated model.Challenge
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{
			"_id":       c.Email,
			"createdAt": c.CreatedAt,
			"attempts":  bson.M{"$lt": s.maxAttempts},
		},
		bson.M{"$inc": bson.M{"attempts": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &InvalidCodeError{Remaining: 0}
	}
	if err != nil {
		return fmt.Errorf("recording failed attempt: %w", err)
	}
	return &InvalidCodeError{Remaining: max(s.maxAttempts-updated.Attempts, 0)}
}

func (s *MongoStore) Delete(ctx context.Context, email string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": email}); err != nil {
		return fmt.Errorf("deleting challenge: %w", err)
	}
	return nil
}

func (s *MongoStore) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	res, err := s.coll.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("sweeping challenges: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) find(ctx context.Context, email string) (*model.Challenge, error) {
	var c model.Challenge
	err := s.coll.FindOne(ctx, bson.M{"_id": email}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading challenge: %w", err)
	}
	return &c, nil
}

func (s *MongoStore) deleteExact(ctx context.Context, c *model.Challenge) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": c.Email, "createdAt": c.CreatedAt})
	if err != nil {
		return fmt.Errorf("deleting challenge: %w", err)
	}
	return nil
}
