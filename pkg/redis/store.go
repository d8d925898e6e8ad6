package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/sessionstate/pkg/kv"
)

// Store implements kv.Store on top of Redis. Each key is a hash holding the
// value and its CAS version; all conditional logic runs inside Lua scripts so
// every operation touches a single key and works with Redis Cluster.
type Store struct {
	db       redis.UniversalClient
	now      func() time.Time
	lastSeed atomic.Int64
}

var _ kv.Store = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used to seed versions of new keys.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore wraps a go-redis client as a kv.Store.
func NewStore(client redis.UniversalClient, opts ...StoreOption) *Store {
	s := &Store{db: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the live value stored under key.
func (s *Store) Get(ctx context.Context, key string) (kv.Item, error) {
	if key == "" {
		return kv.Item{}, kv.ErrEmptyKey
	}
	reply, err := getScript.Run(ctx, s.db, []string{key}).Slice()
	if err != nil {
		return kv.Item{}, classify(err)
	}
	return itemFromReply(reply)
}

// GetAndRefresh returns the value and resets its TTL in the same script.
func (s *Store) GetAndRefresh(ctx context.Context, key string, ttl time.Duration) (kv.Item, error) {
	if key == "" {
		return kv.Item{}, kv.ErrEmptyKey
	}
	reply, err := getAndRefreshScript.Run(ctx, s.db, []string{key}, ttlMillis(ttl)).Slice()
	if err != nil {
		return kv.Item{}, classify(err)
	}
	return itemFromReply(reply)
}

// Insert stores value only if key is absent.
func (s *Store) Insert(ctx context.Context, key string, value []byte, ttl time.Duration) (kv.Version, error) {
	if key == "" {
		return 0, kv.ErrEmptyKey
	}
	reply, err := insertScript.Run(ctx, s.db, []string{key}, value, ttlMillis(ttl), s.seed()).Slice()
	if err != nil {
		return 0, classify(err)
	}
	return versionFromReply(reply)
}

// Replace overwrites key if its version equals expected.
func (s *Store) Replace(ctx context.Context, key string, value []byte, expected kv.Version, ttl time.Duration) (kv.Version, error) {
	if key == "" {
		return 0, kv.ErrEmptyKey
	}
	reply, err := replaceScript.Run(ctx, s.db, []string{key}, value, ttlMillis(ttl), formatVersion(expected)).Slice()
	if err != nil {
		return 0, classify(err)
	}
	return versionFromReply(reply)
}

// Upsert writes unconditionally when expected is zero, otherwise it behaves like Replace.
func (s *Store) Upsert(ctx context.Context, key string, value []byte, expected kv.Version, ttl time.Duration) (kv.Version, error) {
	if expected != 0 {
		return s.Replace(ctx, key, value, expected, ttl)
	}
	if key == "" {
		return 0, kv.ErrEmptyKey
	}
	reply, err := upsertScript.Run(ctx, s.db, []string{key}, value, ttlMillis(ttl), s.seed()).Slice()
	if err != nil {
		return 0, classify(err)
	}
	return versionFromReply(reply)
}

// Refresh resets the TTL of key.
func (s *Store) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return kv.ErrEmptyKey
	}
	reply, err := refreshScript.Run(ctx, s.db, []string{key}, ttlMillis(ttl)).Slice()
	if err != nil {
		return classify(err)
	}
	_, err = statusOf(reply)
	return err
}

// Remove deletes keys one by one in a pipeline so keys may live in different cluster slots.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.db.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Del(ctx, key)
		}
		return nil
	})
	return classify(err)
}

// Conn returns the underlying Redis client for advanced operations.
func (s *Store) Conn() redis.UniversalClient {
	return s.db
}

// Close terminates the Redis connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// seed is the version given to a key that does not exist yet: the clock in
// microseconds. Later writes increment it, so a key deleted and re-created can
// only repeat an old version if it saw more writes than microseconds passed
// between the two creations, or if another process with a lagging clock
// re-creates it. Seeds from one Store never repeat.
func (s *Store) seed() string {
	now := s.now().UnixMicro()
	for {
		last := s.lastSeed.Load()
		next := max(now, last+1)
		if s.lastSeed.CompareAndSwap(last, next) {
			return strconv.FormatInt(next, 10)
		}
	}
}

func ttlMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return max(ttl.Milliseconds(), 1)
}

func formatVersion(v kv.Version) string {
	return strconv.FormatUint(uint64(v), 10)
}

func statusOf(reply []any) (int64, error) {
	if len(reply) == 0 {
		return 0, ErrUnexpectedReply
	}
	code, ok := reply[0].(int64)
	if !ok {
		return 0, fmt.Errorf("%w: status %T", ErrUnexpectedReply, reply[0])
	}
	switch code {
	case replyOK:
		return code, nil
	case replyNotFound:
		return code, kv.ErrNotFound
	case replyExists:
		return code, kv.ErrAlreadyExists
	case replyConflict:
		return code, kv.ErrVersionConflict
	default:
		return code, fmt.Errorf("%w: status %d", ErrUnexpectedReply, code)
	}
}

func versionFromReply(reply []any) (kv.Version, error) {
	if _, err := statusOf(reply); err != nil {
		return 0, err
	}
	if len(reply) < 2 {
		return 0, ErrUnexpectedReply
	}
	return parseVersion(reply[1])
}

func itemFromReply(reply []any) (kv.Item, error) {
	ver, err := versionFromReply(reply)
	if err != nil {
		return kv.Item{}, err
	}
	item := kv.Item{Version: ver}
	if len(reply) > 2 {
		switch v := reply[2].(type) {
		case string:
			item.Value = []byte(v)
		case []byte:
			item.Value = v
		default:
			return kv.Item{}, fmt.Errorf("%w: value %T", ErrUnexpectedReply, reply[2])
		}
	}
	return item, nil
}

func parseVersion(raw any) (kv.Version, error) {
	switch v := raw.(type) {
	case int64:
		return kv.Version(v), nil
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, errors.Join(ErrUnexpectedReply, err)
		}
		return kv.Version(n), nil
	default:
		return 0, fmt.Errorf("%w: version %T", ErrUnexpectedReply, raw)
	}
}

// transientPrefixes are server replies that go away on their own: dataset
// loading, fail-over, slot migration, busy scripts.
var transientPrefixes = []string{
	"LOADING",
	"TRYAGAIN",
	"CLUSTERDOWN",
	"MASTERDOWN",
	"READONLY",
	"BUSY",
}

// classify joins retryable failures with kv.ErrTransient. Cancellation and
// deadlines of the caller's context are returned unchanged: they are never transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.ErrClosed) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, redis.ErrPoolTimeout) ||
		errors.Is(err, redis.ErrPoolExhausted) {
		return kv.Transient(err)
	}

	for _, prefix := range transientPrefixes {
		if redis.HasErrorPrefix(err, prefix) {
			return kv.Transient(err)
		}
	}
	return err
}
