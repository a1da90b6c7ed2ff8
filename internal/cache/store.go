package cache

import (
	"context"
	"time"
)

// Store is the key-value interface backing flow session state. Values are
// opaque payloads with an expiry.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}
