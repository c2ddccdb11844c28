// Package kv provides the flat key-addressed storage primitives the
// conversation store is built on. Every backend offers get, set, delete and
// an ordered prefix scan.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kv: key not found")

// Entry is one key/value pair returned by ScanPrefix.
type Entry struct {
	Key   string
	Value []byte
}

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// ScanPrefix returns all entries whose key starts with prefix, ordered by key.
	ScanPrefix(ctx context.Context, prefix string) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}

// IsNotFound reports whether err means the key is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Open selects a backend from a DSN. A bare filesystem path opens pebble.
func Open(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("kv: empty dsn")
	}
	scheme, rest := splitScheme(dsn)
	switch scheme {
	case "":
		return OpenPebble(dsn)
	case "file", "pebble":
		if rest == "" {
			return nil, fmt.Errorf("kv: %s dsn needs a path", scheme)
		}
		return OpenPebble(rest)
	case "memory":
		return NewMemory(), nil
	case "redis", "rediss":
		return NewRedis(ctx, dsn)
	case "postgres", "postgresql":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("kv: unsupported dsn scheme %q", scheme)
	}
}

// Kind names the backend a DSN selects; used in startup summaries.
func Kind(dsn string) string {
	scheme, _ := splitScheme(strings.TrimSpace(dsn))
	switch scheme {
	case "", "file", "pebble":
		return "pebble"
	case "rediss":
		return "redis"
	case "postgresql":
		return "postgres"
	default:
		return scheme
	}
}

func splitScheme(dsn string) (string, string) {
	i := strings.Index(dsn, "://")
	if i <= 0 {
		return "", dsn
	}
	return strings.ToLower(dsn[:i]), dsn[i+3:]
}

// LocalPath returns the on-disk directory for pebble DSNs and "" for every
// networked or in-memory backend.
func LocalPath(dsn string) string {
	scheme, rest := splitScheme(strings.TrimSpace(dsn))
	switch scheme {
	case "":
		return rest
	case "file", "pebble":
		return rest
	}
	return ""
}
