package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"TaxChat/internal/session"
)

// CachedResponse represents a completed model reply
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// GenerateCacheKey generates a cache key from messages. Timestamps are not
// part of the key.
func GenerateCacheKey(messages []session.Message) string {
	h := sha256.New()
	for _, msg := range messages {
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(msg.Content))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Store holds replies for at most ttl. A zero ttl disables caching.
type Store struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, now: time.Now}
}

// Enabled reports whether the store keeps anything at all.
func (s *Store) Enabled() bool {
	return s != nil && s.ttl > 0
}

// Get returns a fresh cached reply for key.
func (s *Store) Get(key string) (string, bool) {
	if !s.Enabled() {
		return "", false
	}
	val, ok := s.entries.Load(key)
	if !ok {
		return "", false
	}
	cached := val.(CachedResponse)
	if s.now().Sub(cached.Timestamp) > s.ttl {
		s.entries.Delete(key)
		return "", false
	}
	return cached.Response, true
}

// Put stores response under key.
func (s *Store) Put(key, response string) {
	if !s.Enabled() {
		return
	}
	s.entries.Store(key, CachedResponse{
		Response:  response,
		Timestamp: s.now(),
	})
}
