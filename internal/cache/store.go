package cache

import (
	"context"
	"time"
)

// EntryInfo is the bookkeeping kept for a cache entry.
type EntryInfo struct {
	Key          Key           `json:"key"`
	Label        string        `json:"label,omitempty"`
	Size         int64         `json:"size"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessed time.Time     `json:"last_accessed"`
	HitCount     int64         `json:"hit_count"`
	ComputeTime  time.Duration `json:"compute_time"`
}

// Entry is a stored payload with its bookkeeping.
type Entry struct {
	EntryInfo
	Payload []byte
}

// Store persists entries. Implementations must make Insert atomic per key: a reader
// either sees the complete payload or no entry at all.
type Store interface {
	// Get returns the entry for key and records an access at now.
	Get(ctx context.Context, key Key, now time.Time) (*Entry, bool, error)
	// Insert stores e unless its key exists. When the key exists, the stored entry is
	// returned with inserted=false and nothing is written.
	Insert(ctx context.Context, e *Entry) (existing *Entry, inserted bool, err error)
	// List returns bookkeeping for every entry.
	List(ctx context.Context) ([]EntryInfo, error)
	// Delete removes keys and reports how many existed.
	Delete(ctx context.Context, keys ...Key) (int, error)
	Close() error
}
