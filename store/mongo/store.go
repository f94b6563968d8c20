// Package mongo implements the identity store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/ivylab/ivylab"
	ivystore "github.com/ivylab/ivylab/store"
	"github.com/ivylab/ivylab/subscription"
)

// Collection name constants.
const (
	colUsers = "users"
)

// compile-time interface check
var _ ivystore.Store = (*Store)(nil)

// Store implements store.Store on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New wraps an already connected client.
func New(client *mongo.Client, database string) *Store {
	return &Store{
		client: client,
		db:     client.Database(database),
	}
}

// Open connects to uri and returns a store on the named database.
func Open(uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("ivylab/mongo: connect: %w", err)
	}
	return New(client, database), nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

func (s *Store) users() *mongo.Collection { return s.db.Collection(colUsers) }

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("%w: %s indexes: %w", ivylab.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %w", ivylab.ErrStoreUnavailable, err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ==================== Record Store ====================

func (s *Store) GetRecord(ctx context.Context, userID string) (*subscription.Record, error) {
	return s.findOne(ctx, bson.M{"_id": userID}, "get record")
}

func (s *Store) MergeRecord(ctx context.Context, userID string, d subscription.Delta) error {
	_, err := s.users().UpdateOne(ctx,
		bson.M{"_id": userID},
		buildMergeUpdate(d, now()),
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return classify("merge record", err)
	}
	return nil
}

func (s *Store) CreateRecord(ctx context.Context, r *subscription.Record) error {
	m := toUserModel(r)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = docTime(now())
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}

	if _, err := s.users().InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: user %s", ivylab.ErrAlreadyExists, r.UserID)
		}
		return classify("create record", err)
	}
	return nil
}

func (s *Store) FindLegacyByEmail(ctx context.Context, email string) (*subscription.Record, error) {
	filter := bson.M{
		"user_email": bson.M{
			"$regex":   "^" + regexp.QuoteMeta(email) + "$",
			"$options": "i",
		},
		"firebase_uid":         bson.M{"$in": bson.A{nil, ""}},
		"migrated_from_legacy": bson.M{"$in": bson.A{nil, ""}},
	}
	return s.findOne(ctx, filter, "find legacy by email")
}

func (s *Store) FindByBillingReference(ctx context.Context, ref string) (*subscription.Record, error) {
	if ref == "" {
		return nil, ivylab.ErrRecordNotFound
	}
	return s.findOne(ctx, bson.M{"stripe_subscription_id": ref}, "find by billing reference")
}

func (s *Store) MarkMigrated(ctx context.Context, legacyUserID, newUserID string) error {
	res, err := s.users().UpdateOne(ctx,
		bson.M{
			"_id": legacyUserID,
			"migrated_to_firebase_uid": bson.M{"$in": bson.A{nil, "", newUserID}},
		},
		bson.M{"$set": bson.M{
			"migrated_to_firebase_uid": newUserID,
			"migration_status":         string(subscription.MigrationCompleted),
			"updated_at":               now(),
		}},
	)
	if err != nil {
		return classify("mark migrated", err)
	}
	if res.MatchedCount == 0 {
		// Either missing or claimed by someone else.
		if _, err := s.GetRecord(ctx, legacyUserID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ivylab.ErrAlreadyMigrated, legacyUserID)
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, filter bson.M, op string) (*subscription.Record, error) {
	res := s.users().FindOne(ctx, filter)
	if err := res.Err(); err != nil {
		if isNoDocuments(err) {
			return nil, ivylab.ErrRecordNotFound
		}
		return nil, classify(op, err)
	}

	var m userModel
	if err := res.Decode(&m); err != nil {
		return nil, fmt.Errorf("ivylab/mongo: %s: %w: %w", op, ivylab.ErrMalformedRecord, err)
	}
	return fromUserModel(&m), nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// classify wraps driver errors, tagging connectivity failures with
// ErrStoreUnavailable.
func classify(op string, err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("ivylab/mongo: %s: %w: %w", op, ivylab.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("ivylab/mongo: %s: %w", op, err)
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colUsers: {
			{Keys: bson.D{{Key: "user_email", Value: 1}}},
			{
				Keys:    bson.D{{Key: "stripe_subscription_id", Value: 1}},
				Options: options.Index().SetSparse(true),
			},
			{Keys: bson.D{{Key: "subscription_status", Value: 1}, {Key: "updated_at", Value: -1}}},
		},
	}
}
