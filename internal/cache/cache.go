package cache

import (
	"context"
	"errors"
	"time"
)

// Cache defines the cache interface
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Clear removes all keys matching pattern. Only a trailing * is portable
	// across implementations.
	Clear(ctx context.Context, pattern string) error
	Close() error
}

// ErrCacheMiss is returned when a key is not found in cache
var ErrCacheMiss = errors.New("cache miss")

// ViewerKey is the key of a study's viewer configuration built for one
// endpoint set.
func ViewerKey(studyUID, fingerprint string) string {
	return "viewer:" + studyUID + ":" + fingerprint
}

// ViewerPattern matches every cached viewer configuration of a study.
func ViewerPattern(studyUID string) string {
	return "viewer:" + studyUID + ":*"
}
