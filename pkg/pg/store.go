package pg

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/sessionstate/pkg/kv"
)

// DBTX is the subset of pgx used by Store. *pgxpool.Pool, *pgx.Conn and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements kv.Store on the session_kv table created by Migrate.
// Versions come from a sequence, so a re-created key never reuses one.
// Expired rows are invisible to every query; DeleteExpired reclaims them.
type Store struct {
	db  DBTX
	now func() time.Time
}

var _ kv.Store = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used to compute and check expiry.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a Store on top of db.
func NewStore(db DBTX, opts ...StoreOption) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const (
	liveCond = `(expires_at IS NULL OR expires_at > $2)`

	getQuery = `SELECT value, version FROM session_kv WHERE key = $1 AND ` + liveCond

	getAndRefreshQuery = `UPDATE session_kv SET expires_at = $3
WHERE key = $1 AND ` + liveCond + `
RETURNING value, version`

	insertQuery = `INSERT INTO session_kv (key, value, expires_at) VALUES ($1, $3, $4)
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, version = nextval('session_kv_version_seq'), expires_at = EXCLUDED.expires_at
WHERE session_kv.expires_at IS NOT NULL AND session_kv.expires_at <= $2
RETURNING version`

	replaceQuery = `UPDATE session_kv
SET value = $3, version = nextval('session_kv_version_seq'), expires_at = $4
WHERE key = $1 AND version = $5 AND ` + liveCond + `
RETURNING version`

	upsertQuery = `INSERT INTO session_kv (key, value, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, version = nextval('session_kv_version_seq'), expires_at = EXCLUDED.expires_at
RETURNING version`

	refreshQuery = `UPDATE session_kv SET expires_at = $3 WHERE key = $1 AND ` + liveCond

	existsQuery = `SELECT EXISTS (SELECT 1 FROM session_kv WHERE key = $1 AND ` + liveCond + `)`

	removeQuery = `DELETE FROM session_kv WHERE key = ANY($1)`

	deleteExpiredQuery = `DELETE FROM session_kv WHERE expires_at IS NOT NULL AND expires_at <= $1`
)

// Get returns the live value stored under key.
func (s *Store) Get(ctx context.Context, key string) (kv.Item, error) {
	if key == "" {
		return kv.Item{}, kv.ErrEmptyKey
	}
	return s.scanItem(s.db.QueryRow(ctx, getQuery, key, s.now()))
}

// GetAndRefresh returns the value and resets its expiry in one statement.
func (s *Store) GetAndRefresh(ctx context.Context, key string, ttl time.Duration) (kv.Item, error) {
	if key == "" {
		return kv.Item{}, kv.ErrEmptyKey
	}
	now := s.now()
	return s.scanItem(s.db.QueryRow(ctx, getAndRefreshQuery, key, now, expiresAt(now, ttl)))
}

// Insert stores value only if key is absent or expired.
func (s *Store) Insert(ctx context.Context, key string, value []byte, ttl time.Duration) (kv.Version, error) {
	if key == "" {
		return 0, kv.ErrEmptyKey
	}
	now := s.now()
	var ver int64
	err := s.db.QueryRow(ctx, insertQuery, key, now, nonNil(value), expiresAt(now, ttl)).Scan(&ver)
	if IsNotFoundError(err) {
		return 0, kv.ErrAlreadyExists
	}
	if err != nil {
		return 0, classify(err)
	}
	return kv.Version(ver), nil
}

// Replace overwrites key if its version equals expected.
func (s *Store) Replace(ctx context.Context, key string, value []byte, expected kv.Version, ttl time.Duration) (kv.Version, error) {
	if key == "" {
		return 0, kv.ErrEmptyKey
	}
	now := s.now()
	var ver int64
	err := s.db.QueryRow(ctx, replaceQuery, key, now, nonNil(value), expiresAt(now, ttl), int64(expected)).Scan(&ver)
	if IsNotFoundError(err) {
		return 0, s.missOrConflict(ctx, key, now)
	}
	if err != nil {
		return 0, classify(err)
	}
	return kv.Version(ver), nil
}

// Upsert writes unconditionally when expected is zero, otherwise it behaves like Replace.
func (s *Store) Upsert(ctx context.Context, key string, value []byte, expected kv.Version, ttl time.Duration) (kv.Version, error) {
	if expected != 0 {
		return s.Replace(ctx, key, value, expected, ttl)
	}
	if key == "" {
		return 0, kv.ErrEmptyKey
	}
	var ver int64
	if err := s.db.QueryRow(ctx, upsertQuery, key, nonNil(value), expiresAt(s.now(), ttl)).Scan(&ver); err != nil {
		return 0, classify(err)
	}
	return kv.Version(ver), nil
}

// Refresh resets the expiry of key.
func (s *Store) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return kv.ErrEmptyKey
	}
	now := s.now()
	tag, err := s.db.Exec(ctx, refreshQuery, key, now, expiresAt(now, ttl))
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return kv.ErrNotFound
	}
	return nil
}

// Remove deletes the given keys in one statement.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, removeQuery, keys); err != nil {
		return classify(err)
	}
	return nil
}

// DeleteExpired drops expired rows and returns how many were removed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, deleteExpiredQuery, s.now())
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) scanItem(row pgx.Row) (kv.Item, error) {
	var (
		value []byte
		ver   int64
	)
	if err := row.Scan(&value, &ver); err != nil {
		if IsNotFoundError(err) {
			return kv.Item{}, kv.ErrNotFound
		}
		return kv.Item{}, classify(err)
	}
	return kv.Item{Value: value, Version: kv.Version(ver)}, nil
}

// missOrConflict tells a missing key from a version mismatch after a conditional update matched no row.
func (s *Store) missOrConflict(ctx context.Context, key string, now time.Time) error {
	var exists bool
	if err := s.db.QueryRow(ctx, existsQuery, key, now).Scan(&exists); err != nil {
		return classify(err)
	}
	if exists {
		return kv.ErrVersionConflict
	}
	return kv.ErrNotFound
}

func expiresAt(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}

// nonNil keeps the NOT NULL constraint happy for empty values.
func nonNil(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	return value
}

// classify joins retryable failures with kv.ErrTransient: connection loss,
// timeouts, serialization failures and server shutdown or overload. An expired
// or canceled caller context is returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || IsSerializationError(err) {
		return kv.Transient(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08", // connection exception
			pgErr.Code == "57P01", // admin_shutdown
			pgErr.Code == "57P03", // cannot_connect_now
			pgErr.Code == "53300": // too_many_connections
			return kv.Transient(err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return kv.Transient(err)
	}
	return err
}
