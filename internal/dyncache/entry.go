package dyncache

import "time"

// Entry is a cached value with the TTL it was stored with.
type Entry struct {
	key      *Key
	raw      string
	value    any
	storedAt time.Time
	ttl      time.Duration
	sizeHint int64
}

func (e *Entry) Key() string         { return e.raw }
func (e *Entry) Value() any          { return e.value }
func (e *Entry) StoredAt() time.Time { return e.storedAt }
func (e *Entry) TTL() time.Duration  { return e.ttl }
func (e *Entry) SizeHint() int64     { return e.sizeHint }

// isExpired reports whether the entry outlived ttl (or its own TTL when ttl is zero).
func (e *Entry) isExpired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = e.ttl
	}
	return now.Sub(e.storedAt) > ttl
}

// sizeOf estimates the payload weight of well-known value types.
func sizeOf(v any) int64 {
	switch t := v.(type) {
	case []byte:
		return int64(len(t))
	case string:
		return int64(len(t))
	case interface{ Size() int }:
		return int64(t.Size())
	default:
		return 0
	}
}
