package cache

import (
	"errors"
	"time"
)

// Predicate selects entries for cleanup.
type Predicate func(EntryInfo) bool

// OlderThan matches entries created more than age before now.
func OlderThan(age time.Duration, now time.Time) Predicate {
	cutoff := now.Add(-age)
	return func(e EntryInfo) bool { return e.CreatedAt.Before(cutoff) }
}

// NotAccessedSince matches entries whose last access is before t.
func NotAccessedSince(t time.Time) Predicate {
	return func(e EntryInfo) bool { return e.LastAccessed.Before(t) }
}

// LargerThan matches entries bigger than n bytes.
func LargerThan(n int64) Predicate {
	return func(e EntryInfo) bool { return e.Size > n }
}

// HitCountBelow matches entries read fewer than n times.
func HitCountBelow(n int64) Predicate {
	return func(e EntryInfo) bool { return e.HitCount < n }
}

// LabelIs matches entries stored under label.
func LabelIs(label string) Predicate {
	return func(e EntryInfo) bool { return e.Label == label }
}

// AnyOf matches when at least one predicate matches.
func AnyOf(ps ...Predicate) Predicate {
	return func(e EntryInfo) bool {
		for _, p := range ps {
			if p(e) {
				return true
			}
		}
		return false
	}
}

// AllOf matches when every predicate matches.
func AllOf(ps ...Predicate) Predicate {
	return func(e EntryInfo) bool {
		for _, p := range ps {
			if !p(e) {
				return false
			}
		}
		return len(ps) > 0
	}
}

// ErrEmptyPolicy is returned for a cleanup policy with no criteria.
var ErrEmptyPolicy = errors.New("cleanup policy has no criteria")

// CleanupPolicy removes an entry when any configured criterion matches.
type CleanupPolicy struct {
	// NotAccessedFor removes entries idle for longer than this.
	NotAccessedFor time.Duration `yaml:"not_accessed_for"`
	// MaxAge removes entries created longer ago than this.
	MaxAge time.Duration `yaml:"max_age"`
	// MinHits removes entries read fewer times than this.
	MinHits int64 `yaml:"min_hits"`
	// MaxEntryBytes removes entries larger than this.
	MaxEntryBytes int64 `yaml:"max_entry_bytes"`
}

// Predicate builds the combined predicate for the policy as of now.
func (p CleanupPolicy) Predicate(now time.Time) (Predicate, error) {
	var ps []Predicate
	if p.NotAccessedFor > 0 {
		ps = append(ps, NotAccessedSince(now.Add(-p.NotAccessedFor)))
	}
	if p.MaxAge > 0 {
		ps = append(ps, OlderThan(p.MaxAge, now))
	}
	if p.MinHits > 0 {
		ps = append(ps, HitCountBelow(p.MinHits))
	}
	if p.MaxEntryBytes > 0 {
		ps = append(ps, LargerThan(p.MaxEntryBytes))
	}
	if len(ps) == 0 {
		return nil, ErrEmptyPolicy
	}
	return AnyOf(ps...), nil
}
