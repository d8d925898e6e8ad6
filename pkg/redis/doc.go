// Package redis provides the Redis backend for session storage.
//
// It wraps the go-redis client and adds:
//
//   - Connect, which pings the server with retries driven by Config.
//   - Store, a kv.Store implementation where every key is a hash holding the
//     value and a CAS version. Conditional writes run as Lua scripts touching a
//     single key, so the store works unchanged against Redis Cluster.
//   - Healthcheck, a check for liveness / readiness endpoints.
//
// Configuration is described by the Config struct whose fields can be
// populated from environment variables via github.com/caarlos0/env.
//
// # Usage
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    // redis is not reachable, probably terminate the application
//	}
//	defer client.Close()
//
//	provider, err := session.NewProvider(redis.NewStore(client), sessionCfg)
//
// # Versions
//
// A new key starts at the current Unix time in microseconds and every write
// increments it with HINCRBY, so versions stay exact 64-bit integers and a
// re-created key never repeats a version handed out by its predecessor.
//
// # Errors
//
// Network failures, pool timeouts and LOADING / TRYAGAIN / CLUSTERDOWN /
// MASTERDOWN / READONLY / BUSY replies are joined with kv.ErrTransient so the
// session retry policy can tell them apart from terminal outcomes.
package redis
