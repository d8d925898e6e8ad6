package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/sessionstate/pkg/kv"
	"github.com/dmitrymomot/sessionstate/pkg/logger"
)

// Store is the session state API a host calls once per request.
type Store interface {
	Get(ctx context.Context, id string) (Result, error)
	Load(ctx context.Context, id string, metaOnly bool) (*Record, error)
	LoadExclusive(ctx context.Context, id string) (Result, error)
	Release(ctx context.Context, id string, token uint64) error
	SetAndRelease(ctx context.Context, id string, token uint64, items *Items, timeout time.Duration, isNew bool) error
	Remove(ctx context.Context, id string, token uint64) error
	Touch(ctx context.Context, id string, timeout time.Duration) error
	CreateUninitialized(ctx context.Context, id string, timeout time.Duration) error
}

// Provider implements Store on top of a kv.Store.
type Provider struct {
	store          kv.Store
	cfg            Config
	codec          ItemsCodec
	log            *slog.Logger
	metrics        Metrics
	now            func() time.Time
	transientRetry RetryPolicy
	conflictRetry  RetryPolicy
}

var _ Store = (*Provider)(nil)

const (
	opGet                 = "get"
	opLoad                = "load"
	opLoadExclusive       = "load_exclusive"
	opRelease             = "release"
	opSetAndRelease       = "set_and_release"
	opRemove              = "remove"
	opTouch               = "touch"
	opCreateUninitialized = "create_uninitialized"
)

// NewProvider creates a Provider. Zero Timeout and MaxLockAge fall back to DefaultConfig.
func NewProvider(store kv.Store, cfg Config, opts ...Option) (*Provider, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	p := &Provider{
		store:          store,
		cfg:            cfg.withDefaults(),
		codec:          BinaryCodec{},
		log:            logger.Nop(),
		metrics:        nopMetrics{},
		now:            time.Now,
		transientRetry: TransientRetry,
		conflictRetry:  ConflictRetry,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(logger.Component("session"))
	return p, nil
}

// Config returns the effective configuration.
func (p *Provider) Config() Config {
	return p.cfg
}

// NewID returns a random session id.
func NewID() string {
	return uuid.NewString()
}

// NewRecord returns an empty, unsaved record with the given timeout
// (the configured default when zero).
func (p *Provider) NewRecord(timeout time.Duration) *Record {
	return &Record{
		Items:   NewItems(),
		Timeout: p.timeout(timeout),
	}
}

// Get reads the session without locking it. A locked session, stale or not,
// is reported as OutcomeBusy with the holder's token and no record; its body
// is not read. Get and Load leave TTLs unchanged.
func (p *Provider) Get(ctx context.Context, id string) (res Result, err error) {
	defer p.observe(opGet, time.Now(), &res, &err)
	if id == "" {
		return Result{}, ErrInvalidID
	}

	rec, err := p.loadHeader(ctx, opGet, id, false)
	if errors.Is(err, kv.ErrNotFound) {
		return Result{Outcome: OutcomeNotFound, Actions: FlagUninitialized}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if rec.Locked() {
		return Result{
			Outcome:   OutcomeBusy,
			LockToken: rec.LockToken,
			LockAge:   rec.LockAge(p.now()),
			Actions:   rec.Flag,
		}, nil
	}

	body, bodyErr := p.getBody(ctx, opGet, id, 0)
	err = p.applyBody(rec, body, bodyErr)
	if errors.Is(err, ErrSessionNotFound) {
		return Result{Outcome: OutcomeNotFound, Actions: FlagUninitialized}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeUnlocked, Record: rec, Actions: rec.Flag}, nil
}

// Load reads the header, or header and body concurrently, without touching
// TTLs or locks. It returns ErrSessionNotFound when the header is missing, or
// when the body is missing for a session that was not created uninitialized.
func (p *Provider) Load(ctx context.Context, id string, metaOnly bool) (rec *Record, err error) {
	defer p.observe(opLoad, time.Now(), nil, &err)
	if id == "" {
		return nil, ErrInvalidID
	}

	if metaOnly {
		rec, err = p.loadHeader(ctx, opLoad, id, false)
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return rec, err
	}

	var (
		body    kv.Item
		bodyErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rec, err = p.loadHeader(gctx, opLoad, id, false)
		return err
	})
	g.Go(func() error {
		body, bodyErr = p.getBody(gctx, opLoad, id, 0)
		if errors.Is(bodyErr, kv.ErrNotFound) {
			return nil
		}
		return bodyErr
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if err := p.applyBody(rec, body, bodyErr); err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateUninitialized stores a session flagged FlagInitializeItem with an
// empty body. It fails with ErrAlreadyExists when the id is taken.
func (p *Provider) CreateUninitialized(ctx context.Context, id string, timeout time.Duration) (err error) {
	defer p.observe(opCreateUninitialized, time.Now(), nil, &err)
	if id == "" {
		return ErrInvalidID
	}

	rec := &Record{ID: id, Flag: FlagInitializeItem, Timeout: p.timeout(timeout)}
	key := p.cfg.HeaderKey(id)
	_, err = transient(ctx, p, opCreateUninitialized, func(ctx context.Context) (kv.Version, error) {
		return p.store.Insert(ctx, key, encodeHeader(headerOf(rec)), rec.Timeout)
	})
	if errors.Is(err, kv.ErrAlreadyExists) {
		return errors.Join(ErrAlreadyExists, err)
	}
	if err != nil {
		return err
	}

	// The header alone is still a valid empty session; LoadExclusive writes
	// the body if this one is missing.
	if _, err := p.putEmptyBody(ctx, opCreateUninitialized, id, rec.Timeout); err != nil {
		p.log.WarnContext(ctx, "empty body not stored",
			logger.SessionID(id),
			logger.Error(err),
		)
	}
	return nil
}

// Remove deletes both keys when token matches the current lock.
// A mismatch or a missing session is a no-op.
func (p *Provider) Remove(ctx context.Context, id string, token uint64) (err error) {
	defer p.observe(opRemove, time.Now(), nil, &err)
	if id == "" {
		return ErrInvalidID
	}

	rec, err := p.loadHeader(ctx, opRemove, id, false)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.LockToken != token {
		p.log.DebugContext(ctx, "remove skipped, lock token mismatch",
			logger.SessionID(id),
			logger.LockToken(token),
		)
		return nil
	}

	_, err = transient(ctx, p, opRemove, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.store.Remove(ctx, p.cfg.HeaderKey(id), p.cfg.BodyKey(id))
	})
	return err
}

// Touch resets the TTL of header and body independently. It returns
// ErrSessionNotFound only when neither key could be refreshed because the
// header is missing; other failures are logged.
func (p *Provider) Touch(ctx context.Context, id string, timeout time.Duration) (err error) {
	defer p.observe(opTouch, time.Now(), nil, &err)
	if id == "" {
		return ErrInvalidID
	}
	ttl := p.timeout(timeout)

	var headerErr, bodyErr error
	var g errgroup.Group
	g.Go(func() error {
		_, headerErr = transient(ctx, p, opTouch, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.store.Refresh(ctx, p.cfg.HeaderKey(id), ttl)
		})
		return nil
	})
	g.Go(func() error {
		_, bodyErr = transient(ctx, p, opTouch, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.store.Refresh(ctx, p.cfg.BodyKey(id), ttl)
		})
		return nil
	})
	_ = g.Wait()

	for _, e := range []error{headerErr, bodyErr} {
		if e != nil && !errors.Is(e, kv.ErrNotFound) {
			p.log.WarnContext(ctx, "touch failed",
				logger.SessionID(id),
				logger.Error(e),
			)
		}
	}
	if errors.Is(headerErr, kv.ErrNotFound) {
		if bodyErr != nil {
			return ErrSessionNotFound
		}
		p.log.WarnContext(ctx, "session header missing on touch, body refreshed",
			logger.SessionID(id),
		)
	}
	return nil
}

// loadHeader reads and decodes the header. refresh resets its TTL to the configured timeout.
func (p *Provider) loadHeader(ctx context.Context, op, id string, refresh bool) (*Record, error) {
	key := p.cfg.HeaderKey(id)
	item, err := transient(ctx, p, op, func(ctx context.Context) (kv.Item, error) {
		if refresh {
			return p.store.GetAndRefresh(ctx, key, p.cfg.Timeout)
		}
		return p.store.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}

	h, err := decodeHeader(item.Value)
	if err != nil {
		return nil, err
	}
	rec := &Record{ID: id, HeaderVersion: item.Version}
	h.apply(rec)
	return rec, nil
}

// getBody reads the raw body. A positive ttl refreshes it.
func (p *Provider) getBody(ctx context.Context, op, id string, ttl time.Duration) (kv.Item, error) {
	key := p.cfg.BodyKey(id)
	return transient(ctx, p, op, func(ctx context.Context) (kv.Item, error) {
		if ttl > 0 {
			return p.store.GetAndRefresh(ctx, key, ttl)
		}
		return p.store.Get(ctx, key)
	})
}

// applyBody fills rec from the result of a body read. A missing body reads as
// empty items for a session flagged FlagInitializeItem and as
// ErrSessionNotFound otherwise.
func (p *Provider) applyBody(rec *Record, body kv.Item, err error) error {
	switch {
	case errors.Is(err, kv.ErrNotFound):
		if rec.Flag != FlagInitializeItem {
			return ErrSessionNotFound
		}
		rec.Items = NewItems()
		return nil
	case err != nil:
		return err
	}
	return p.decodeBody(rec, body)
}

// putEmptyBody stores an empty item collection as the body of id,
// overwriting whatever is there.
func (p *Provider) putEmptyBody(ctx context.Context, op, id string, ttl time.Duration) (kv.Version, error) {
	body, err := p.encodeBody(nil)
	if err != nil {
		return 0, err
	}
	return transient(ctx, p, op, func(ctx context.Context) (kv.Version, error) {
		return p.store.Upsert(ctx, p.cfg.BodyKey(id), body, 0, ttl)
	})
}

func (p *Provider) decodeBody(rec *Record, body kv.Item) error {
	items, err := p.codec.Decode(body.Value)
	if err != nil {
		if errors.Is(err, ErrInvalidItems) {
			return err
		}
		return errors.Join(ErrInvalidItems, err)
	}
	rec.Items = items
	rec.BodyVersion = body.Version
	return nil
}

func (p *Provider) encodeBody(items *Items) ([]byte, error) {
	if items == nil {
		items = NewItems()
	}
	b, err := p.codec.Encode(items)
	if err != nil {
		return nil, errors.Join(ErrInvalidItems, err)
	}
	return b, nil
}

func (p *Provider) timeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return p.cfg.Timeout
}

func (p *Provider) ttl(rec *Record) time.Duration {
	return p.timeout(rec.Timeout)
}

// observe reports an operation to Metrics. res is nil for operations without a Result.
func (p *Provider) observe(op string, start time.Time, res *Result, err *error) {
	outcome := "ok"
	switch {
	case *err != nil && errors.Is(*err, ErrSessionLost):
		outcome = "lost"
	case *err != nil && errors.Is(*err, ErrSessionNotFound):
		outcome = OutcomeNotFound.String()
	case *err != nil:
		outcome = "error"
	case res != nil:
		outcome = res.Outcome.String()
	}
	p.metrics.ObserveOperation(op, outcome, time.Since(start))
}
