package session

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/sessionstate/pkg/kv"
	"github.com/dmitrymomot/sessionstate/pkg/logger"
)

// LoadExclusive takes the session lock and returns the full record.
//
// The lock token is the header version read before the lock write. A lock
// older than MaxLockAge is taken over; a younger one yields OutcomeBusy
// without any write. When the body cannot be read after locking, the lock is
// rolled back and ErrSessionLost is returned together with a Result whose
// Actions is FlagInitializeItem, telling the host to start a new session.
func (p *Provider) LoadExclusive(ctx context.Context, id string) (res Result, err error) {
	defer p.observe(opLoadExclusive, time.Now(), &res, &err)
	if id == "" {
		return Result{}, ErrInvalidID
	}

	var prev Flag
	err = p.withConflicts(ctx, opLoadExclusive, func(ctx context.Context) error {
		rec, err := p.loadHeader(ctx, opLoadExclusive, id, true)
		if errors.Is(err, kv.ErrNotFound) {
			res = Result{Outcome: OutcomeNotFound, Actions: FlagUninitialized}
			return nil
		}
		if err != nil {
			return err
		}

		now := p.now()
		if rec.Locked() && !rec.stale(now, p.cfg.MaxLockAge) {
			res = Result{
				Outcome:   OutcomeBusy,
				LockToken: rec.LockToken,
				LockAge:   rec.LockAge(now),
				Actions:   rec.Flag,
			}
			return nil
		}
		if rec.Locked() {
			p.log.InfoContext(ctx, "taking over stale lock",
				logger.SessionID(id),
				logger.LockToken(rec.LockToken),
				logger.Duration(rec.LockAge(now)),
			)
		}

		prev = rec.Flag
		rec.LockToken = uint64(rec.HeaderVersion)
		rec.LockTime = now
		rec.Flag = FlagNone

		ver, err := p.replaceHeader(ctx, opLoadExclusive, rec)
		if errors.Is(err, kv.ErrNotFound) {
			res = Result{Outcome: OutcomeNotFound, Actions: FlagUninitialized}
			return nil
		}
		if err != nil {
			return err
		}
		rec.HeaderVersion = ver
		res = Result{Outcome: OutcomeLocked, Record: rec, LockToken: rec.LockToken, Actions: prev}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if res.Outcome != OutcomeLocked {
		return res, nil
	}

	rec := res.Record
	body, err := p.getBody(ctx, opLoadExclusive, id, p.ttl(rec))
	switch {
	case errors.Is(err, kv.ErrNotFound) && prev == FlagInitializeItem:
		// Store the first body now: the header no longer carries the flag
		// that lets a missing body read as empty.
		ver, werr := p.putEmptyBody(ctx, opLoadExclusive, id, p.ttl(rec))
		if werr == nil {
			rec.Items = NewItems()
			rec.BodyVersion = ver
			return res, nil
		}
		p.rollback(ctx, rec, prev)
		p.log.WarnContext(ctx, "empty body not stored after locking",
			logger.SessionID(id),
			logger.Error(werr),
		)
		return Result{}, werr
	case err == nil:
		err = p.decodeBody(rec, body)
		if err == nil {
			return res, nil
		}
	}

	p.rollback(ctx, rec, prev)
	p.log.WarnContext(ctx, "session body unavailable after locking",
		logger.SessionID(id),
		logger.Error(err),
	)
	return Result{Outcome: OutcomeNotFound, Actions: FlagInitializeItem}, errors.Join(ErrSessionLost, err)
}

// rollback clears a lock this provider has just written and restores the
// flag it replaced. Failure leaves the lock to go stale.
func (p *Provider) rollback(ctx context.Context, rec *Record, flag Flag) {
	token := rec.LockToken
	rec.unlock()
	rec.Flag = flag
	if _, err := p.replaceHeader(ctx, opLoadExclusive, rec); err != nil {
		p.log.WarnContext(ctx, "lock rollback failed",
			logger.SessionID(rec.ID),
			logger.LockToken(token),
			logger.Error(err),
		)
	}
}

// Release clears the lock if token still holds it. A missing session, a
// different holder or a zero token is a no-op, so Release is idempotent.
func (p *Provider) Release(ctx context.Context, id string, token uint64) (err error) {
	defer p.observe(opRelease, time.Now(), nil, &err)
	if id == "" {
		return ErrInvalidID
	}
	if token == 0 {
		return nil
	}

	return p.withConflicts(ctx, opRelease, func(ctx context.Context) error {
		rec, err := p.loadHeader(ctx, opRelease, id, false)
		if errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.LockToken != token {
			return nil
		}

		rec.unlock()
		_, err = p.replaceHeader(ctx, opRelease, rec)
		if errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		return err
	})
}

// SetAndRelease stores items and clears the lock in one logical step.
//
// For isNew it inserts the header, then the body; if the header already
// exists it falls back to the update path without writing. The update path aborts silently when the session
// is gone or token no longer holds the lock, so a caller that lost its lock
// never overwrites a newer writer. The body is written before the header, so
// the lock is released only once the payload is stored.
func (p *Provider) SetAndRelease(ctx context.Context, id string, token uint64, items *Items, timeout time.Duration, isNew bool) (err error) {
	defer p.observe(opSetAndRelease, time.Now(), nil, &err)
	if id == "" {
		return ErrInvalidID
	}

	body, err := p.encodeBody(items)
	if err != nil {
		return err
	}
	ttl := p.timeout(timeout)

	if isNew {
		inserted, err := p.insertNew(ctx, id, body, ttl)
		if err != nil || inserted {
			return err
		}
		p.log.DebugContext(ctx, "new session already exists, updating",
			logger.SessionID(id),
		)
	}

	return p.withConflicts(ctx, opSetAndRelease, func(ctx context.Context) error {
		rec, err := p.loadHeader(ctx, opSetAndRelease, id, false)
		if errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.LockToken != token {
			p.log.InfoContext(ctx, "set and release skipped, lock superseded",
				logger.SessionID(id),
				logger.LockToken(token),
			)
			return nil
		}

		current, err := p.getBody(ctx, opSetAndRelease, id, 0)
		switch {
		case errors.Is(err, kv.ErrNotFound):
			current = kv.Item{}
		case err != nil:
			return err
		}

		_, err = transient(ctx, p, opSetAndRelease, func(ctx context.Context) (kv.Version, error) {
			return p.store.Upsert(ctx, p.cfg.BodyKey(id), body, current.Version, ttl)
		})
		if errors.Is(err, kv.ErrNotFound) {
			// The body vanished between read and write; re-read.
			return kv.ErrVersionConflict
		}
		if err != nil {
			return err
		}

		rec.Flag = FlagNone
		rec.Timeout = ttl
		rec.unlock()
		_, err = p.replaceHeader(ctx, opSetAndRelease, rec)
		if errors.Is(err, kv.ErrNotFound) {
			p.log.WarnContext(ctx, "session header vanished during save",
				logger.SessionID(id),
			)
			return nil
		}
		return err
	})
}

// insertNew inserts the header and, only once that succeeds, the body.
// inserted is false when the header already existed; nothing is written then.
func (p *Provider) insertNew(ctx context.Context, id string, body []byte, ttl time.Duration) (inserted bool, err error) {
	rec := &Record{ID: id, Flag: FlagNone, Timeout: ttl}
	hdr := encodeHeader(headerOf(rec))

	_, err = transient(ctx, p, opSetAndRelease, func(ctx context.Context) (kv.Version, error) {
		return p.store.Insert(ctx, p.cfg.HeaderKey(id), hdr, ttl)
	})
	if errors.Is(err, kv.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// The header is ours, so any body already stored is an orphan.
	_, err = transient(ctx, p, opSetAndRelease, func(ctx context.Context) (kv.Version, error) {
		return p.store.Upsert(ctx, p.cfg.BodyKey(id), body, 0, ttl)
	})
	if err != nil {
		if rmErr := p.store.Remove(ctx, p.cfg.HeaderKey(id)); rmErr != nil {
			p.log.WarnContext(ctx, "new session header left without body",
				logger.SessionID(id),
				logger.Error(rmErr),
			)
		}
		return false, err
	}
	return true, nil
}

// replaceHeader writes rec's header with CAS on rec.HeaderVersion.
func (p *Provider) replaceHeader(ctx context.Context, op string, rec *Record) (kv.Version, error) {
	value := encodeHeader(headerOf(rec))
	ttl := p.ttl(rec)
	return transient(ctx, p, op, func(ctx context.Context) (kv.Version, error) {
		return p.store.Replace(ctx, p.cfg.HeaderKey(rec.ID), value, rec.HeaderVersion, ttl)
	})
}
