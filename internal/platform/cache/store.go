// Package cache holds the short-lived key/value stores used to memoise
// computed availability.
package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented cache with per-entry TTL.
type Store interface {
	// Get returns ok=false on a miss or an expired entry.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix and returns how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}
