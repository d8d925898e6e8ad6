package session

import (
	"strings"
	"time"
)

const (
	headerPrefix = "info-"
	dataPrefix   = "data-"
)

// Config holds provider configuration
type Config struct {
	// Timeout is the session TTL used when an operation is given no explicit timeout
	Timeout time.Duration `env:"SESSION_TIMEOUT" envDefault:"90m"`

	// MaxLockAge is the age after which a held lock may be stolen by any acquirer
	MaxLockAge time.Duration `env:"SESSION_MAX_LOCK_AGE" envDefault:"5m"`

	// Namespace is prepended to every storage key
	Namespace string `env:"SESSION_NAMESPACE"`
}

// DefaultConfig returns default provider configuration
func DefaultConfig() Config {
	return Config{
		Timeout:    90 * time.Minute,
		MaxLockAge: 5 * time.Minute,
	}
}

// HeaderKey returns the storage key of the session header.
func (c Config) HeaderKey(id string) string {
	return c.Namespace + headerPrefix + id
}

// BodyKey returns the storage key of the session body.
func (c Config) BodyKey(id string) string {
	return c.Namespace + dataPrefix + id
}

// Namespace builds a key prefix that keeps sessions of different
// applications apart in a shared store: the site name with spaces replaced by
// '-', then '+', then the application path.
func Namespace(site, appPath string) string {
	if site == "" && appPath == "" {
		return ""
	}
	return strings.ReplaceAll(site, " ", "-") + "+" + appPath
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxLockAge <= 0 {
		c.MaxLockAge = d.MaxLockAge
	}
	return c
}
