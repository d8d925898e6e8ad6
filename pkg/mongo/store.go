package mongo

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/sessionstate/pkg/kv"
)

// DefaultCollection is used when NewStore is given an empty collection name.
const DefaultCollection = "session_kv"

type document struct {
	Key       string     `bson:"_id"`
	Value     []byte     `bson:"value"`
	Version   int64      `bson:"version"`
	ExpiresAt *time.Time `bson:"expires_at"`
}

// Store implements kv.Store on a MongoDB collection, one document per key.
// Compare-and-swap is a FindOneAndUpdate filtered on the version field.
type Store struct {
	coll     *mongo.Collection
	now      func() time.Time
	lastSeed atomic.Int64
}

var _ kv.Store = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for expiry and version seeds.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a Store over db.collection.
func NewStore(db *mongo.Database, collection string, opts ...StoreOption) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	s := &Store{coll: db.Collection(collection), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureIndexes creates the TTL index that lets the server drop expired documents.
// Reads never depend on it: expired documents are filtered out by every query.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetName("expires_at_ttl").SetExpireAfterSeconds(0),
	})
	if err != nil {
		return errors.Join(ErrFailedToCreateIndexes, err)
	}
	return nil
}

// Collection returns the underlying collection.
func (s *Store) Collection() *mongo.Collection {
	return s.coll
}

// Get returns the live value stored under key.
func (s *Store) Get(ctx context.Context, key string) (kv.Item, error) {
	if key == "" {
		return kv.Item{}, kv.ErrEmptyKey
	}
	var doc document
	if err := s.coll.FindOne(ctx, liveFilter(key, s.now())).Decode(&doc); err != nil {
		return kv.Item{}, notFoundOr(err)
	}
	return doc.item(), nil
}

// GetAndRefresh returns the value and resets its expiry atomically.
func (s *Store) GetAndRefresh(ctx context.Context, key string, ttl time.Duration) (kv.Item, error) {
	if key == "" {
		return kv.Item{}, kv.ErrEmptyKey
	}
	now := s.now()
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "expires_at", Value: expiresAt(now, ttl)}}}}

	var doc document
	err := s.coll.FindOneAndUpdate(ctx, liveFilter(key, now), update, afterUpdate()).Decode(&doc)
	if err != nil {
		return kv.Item{}, notFoundOr(err)
	}
	return doc.item(), nil
}

// Insert stores value only if key is absent. An expired document is removed first.
func (s *Store) Insert(ctx context.Context, key string, value []byte, ttl time.Duration) (kv.Version, error) {
	if key == "" {
		return 0, kv.ErrEmptyKey
	}
	now := s.now()

	expired := bson.D{
		{Key: "_id", Value: key},
		{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: now}}},
	}
	if _, err := s.coll.DeleteOne(ctx, expired); err != nil {
		return 0, classify(err)
	}

	doc := document{
		Key:       key,
		Value:     nonNil(value),
		Version:   s.seed(),
		ExpiresAt: expiresAt(now, ttl),
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, kv.ErrAlreadyExists
		}
		return 0, classify(err)
	}
	return kv.Version(doc.Version), nil
}

// Replace overwrites key if its version equals expected.
func (s *Store) Replace(ctx context.Context, key string, value []byte, expected kv.Version, ttl time.Duration) (kv.Version, error) {
	if key == "" {
		return 0, kv.ErrEmptyKey
	}
	now := s.now()

	filter := append(liveFilter(key, now), bson.E{Key: "version", Value: int64(expected)})
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "value", Value: nonNil(value)},
			{Key: "expires_at", Value: expiresAt(now, ttl)},
		}},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: int64(1)}}},
	}

	var doc document
	err := s.coll.FindOneAndUpdate(ctx, filter, update, afterUpdate()).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, s.missOrConflict(ctx, key, now)
	}
	if err != nil {
		return 0, classify(err)
	}
	return kv.Version(doc.Version), nil
}

// Upsert writes unconditionally when expected is zero, otherwise it behaves like Replace.
// An existing document keeps counting its version; a new one gets a fresh seed.
func (s *Store) Upsert(ctx context.Context, key string, value []byte, expected kv.Version, ttl time.Duration) (kv.Version, error) {
	if expected != 0 {
		return s.Replace(ctx, key, value, expected, ttl)
	}
	if key == "" {
		return 0, kv.ErrEmptyKey
	}
	now := s.now()

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "value", Value: bson.D{{Key: "$literal", Value: nonNil(value)}}},
			{Key: "expires_at", Value: expiresAt(now, ttl)},
			{Key: "version", Value: bson.D{{Key: "$ifNull", Value: bson.A{
				bson.D{{Key: "$add", Value: bson.A{"$version", int64(1)}}},
				s.seed(),
			}}}},
		}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc document
	if err := s.coll.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: key}}, update, opts).Decode(&doc); err != nil {
		return 0, classify(err)
	}
	return kv.Version(doc.Version), nil
}

// Refresh resets the expiry of key.
func (s *Store) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return kv.ErrEmptyKey
	}
	now := s.now()
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "expires_at", Value: expiresAt(now, ttl)}}}}

	res, err := s.coll.UpdateOne(ctx, liveFilter(key, now), update)
	if err != nil {
		return classify(err)
	}
	if res.MatchedCount == 0 {
		return kv.ErrNotFound
	}
	return nil
}

// Remove deletes the given keys.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: keys}}}}
	if _, err := s.coll.DeleteMany(ctx, filter); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) missOrConflict(ctx context.Context, key string, now time.Time) error {
	n, err := s.coll.CountDocuments(ctx, liveFilter(key, now), options.Count().SetLimit(1))
	if err != nil {
		return classify(err)
	}
	if n > 0 {
		return kv.ErrVersionConflict
	}
	return kv.ErrNotFound
}

// seed is the version of a newly created document: the clock in microseconds,
// bumped so one Store never hands out the same seed twice. Versions grow by one
// per write, so a key deleted and re-created can only repeat an old version if
// it saw more writes than microseconds passed between the two creations, or if
// another process with a lagging clock re-creates it.
func (s *Store) seed() int64 {
	now := s.now().UnixMicro()
	for {
		last := s.lastSeed.Load()
		next := max(now, last+1)
		if s.lastSeed.CompareAndSwap(last, next) {
			return next
		}
	}
}

func liveFilter(key string, now time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: key},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "expires_at", Value: nil}},
			bson.D{{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now}}}},
		}},
	}
}

func afterUpdate() *options.FindOneAndUpdateOptionsBuilder {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

func expiresAt(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}

func nonNil(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	return value
}

func (d document) item() kv.Item {
	return kv.Item{Value: d.Value, Version: kv.Version(d.Version)}
}

func notFoundOr(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return kv.ErrNotFound
	}
	return classify(err)
}

// classify joins retryable failures with kv.ErrTransient. Cancellation and
// deadlines of the caller's context are returned unchanged: they are never transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return kv.Transient(err)
	}
	var le mongo.LabeledError
	if errors.As(err, &le) && (le.HasErrorLabel("RetryableWriteError") || le.HasErrorLabel("TransientTransactionError")) {
		return kv.Transient(err)
	}
	return err
}

