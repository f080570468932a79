package throttle

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Record is the attempt state of one origin.
type Record struct {
	Failures int
	// Pending counts attempts reserved by Allow and not yet settled.
	Pending     int
	WindowStart time.Time
	LockedUntil time.Time
}

// Store holds attempt records. Update must apply fn atomically with respect to
// other calls for the same key.
type Store interface {
	// Update loads the record for key (zero if absent), lets fn modify it and
	// saves the result. A record left at its zero value is deleted.
	Update(key string, fn func(rec *Record)) Record
	// Purge drops expired records.
	Purge()
}

// MemoryStore keeps records in process memory. Records expire after ttl of
// inactivity; expiry only bounds memory, the throttle logic never relies on it.
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
	ttl   time.Duration
}

// NewMemoryStore returns an empty store. The cache janitor is off; expired
// entries are dropped by Purge.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: cache.New(ttl, 0),
		ttl:   ttl,
	}
}

func (s *MemoryStore) Update(key string, fn func(rec *Record)) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec Record
	if v, ok := s.cache.Get(key); ok {
		rec = v.(Record)
	}
	fn(&rec)

	if rec == (Record{}) {
		s.cache.Delete(key)
	} else {
		s.cache.Set(key, rec, s.ttl)
	}
	return rec
}

func (s *MemoryStore) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.DeleteExpired()
}

// Len returns the number of stored records, including expired ones not yet purged.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}
