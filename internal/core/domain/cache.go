package domain

import "time"

// CacheEntry is a cached lookup result. Exactly one of Value or Err is
// meaningful: an entry with Err set is a negative (error) cache entry.
type CacheEntry[T any] struct {
	Value T

	// Err is the memoised failure for negative entries.
	Err error

	// StoredAt is when the entry was written.
	StoredAt time.Time

	// TTL is how long the entry stays fresh after StoredAt.
	TTL time.Duration

	// Attempt counts consecutive failed loads. Reset to 0 on success.
	Attempt int
}

// Fresh reports whether the entry may still be served at now.
func (e CacheEntry[T]) Fresh(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// Negative reports whether the entry memoises an error.
func (e CacheEntry[T]) Negative() bool {
	return e.Err != nil
}

// ExpiresAt returns the instant the entry stops being fresh.
func (e CacheEntry[T]) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}
