// Package pg provides the PostgreSQL backend for session storage, built on
// pgx/v5 and goose/v3.
//
// The package exposes:
//
//   - Config, populated from environment variables via github.com/caarlos0/env.
//   - Connect, which opens a *pgxpool.Pool and retries with a linear back-off
//     until the database answers a ping.
//   - Migrate, which applies the embedded goose migrations that create the
//     session_kv table and its version sequence.
//   - Store, a kv.Store over session_kv. Compare-and-swap is a conditional
//     UPDATE on the version column; versions come from a sequence.
//   - Healthcheck, a check for liveness / readiness endpoints.
//
// # Usage
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    panic(err)
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, slog.Default()); err != nil {
//	    panic(err)
//	}
//
//	store := pg.NewStore(pool)
//
// # Expiry
//
// Rows carry an optional expires_at. Reads and conditional writes ignore
// expired rows, and Insert takes over an expired key in place. Call
// Store.DeleteExpired periodically to reclaim space.
//
// # Error Handling
//
// Connection loss, timeouts, serialization failures and server shutdown are
// joined with kv.ErrTransient. Helpers such as [IsDuplicateKeyError] classify
// *pgconn.PgError values for callers that use the pool directly.
package pg
