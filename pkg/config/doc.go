// Package config loads typed configuration from environment variables.
//
// It wraps `github.com/joho/godotenv` and `github.com/caarlos0/env/v11`:
//
//   - Load reads the default `.env` file once (if present), optionally extra
//     dotenv files, then parses the environment into a struct using field tags.
//   - Each configuration type is parsed once per prefix and cached for the
//     lifetime of the process; MustLoad panics on failure.
//   - ResetCache clears the cache between tests.
//
// # Usage
//
//	import "github.com/dmitrymomot/sessionstate/pkg/config"
//
//	var cfg session.Config
//	if err := config.Load(&cfg, config.WithEnvFiles(".env.local")); err != nil {
//	    log.Fatalf("parsing env: %v", err)
//	}
//
// Two providers in one process can read separate variables with a prefix:
//
//	var admin session.Config
//	config.MustLoad(&admin, config.WithPrefix("ADMIN_")) // ADMIN_SESSION_TIMEOUT, ...
//
// # Error Handling
//
//   - ErrParsingConfig – failed to parse env vars into struct.
//   - ErrLoadingEnvFile – a dotenv file passed to LoadEnv / WithEnvFiles is unreadable.
//   - ErrNilPointer – nil pointer passed to Load / MustLoad.
package config
