// Package sessionstate stores web session state in a shared key-value store
// and serializes concurrent requests to the same session with an exclusive
// lock built on compare-and-swap.
//
// Each session is kept under two keys: a small fixed-layout header holding
// the lock and lifecycle state, and a body holding the session variables.
// Versions returned by the store double as lock tokens, so acquiring,
// releasing and saving never need a separate lock service.
//
// Packages:
//
//   - pkg/session: the provider (Get, Load, LoadExclusive, Release,
//     SetAndRelease, Remove, Touch, CreateUninitialized), record codec and
//     retry policies.
//   - pkg/kv: the store contract, an in-memory store and the shared
//     contract test suite.
//   - pkg/redis, pkg/pg, pkg/mongo: store backends.
//   - pkg/metrics: Prometheus collector for provider activity.
//   - pkg/logger, pkg/config: slog factory and environment configuration.
//   - cmd/sessionctl: operator CLI.
//
// Basic usage:
//
//	client, err := redis.Connect(ctx, redisCfg)
//	if err != nil {
//		return err
//	}
//
//	provider, err := session.NewProvider(redis.NewStore(client), session.DefaultConfig(),
//		session.WithLogger(log),
//	)
//	if err != nil {
//		return err
//	}
//
//	res, err := provider.LoadExclusive(ctx, id)
//	if err != nil {
//		return err
//	}
//	switch res.Outcome {
//	case session.OutcomeLocked:
//		res.Record.Items.Set("cart", cart)
//		return provider.SetAndRelease(ctx, id, res.LockToken, res.Record.Items, 0, false)
//	case session.OutcomeBusy:
//		// retry later; the lock is held by another request
//	case session.OutcomeNotFound:
//		// start a new session
//	}
package sessionstate
