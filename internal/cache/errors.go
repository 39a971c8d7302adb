package cache

import (
	"errors"
	"fmt"
)

// ErrCacheKeyCollision means a key already holds a different payload. Keys are derived
// from content, so this indicates a fingerprinting defect and is never resolved by overwriting.
var ErrCacheKeyCollision = errors.New("cache key collision")

// CollisionError reports the key and payload sizes involved in a collision.
type CollisionError struct {
	Key          Key
	ExistingSize int
	NewSize      int
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("cache key collision for %s: stored %d bytes, new %d bytes", e.Key.Short(), e.ExistingSize, e.NewSize)
}

func (e *CollisionError) Unwrap() error { return ErrCacheKeyCollision }
