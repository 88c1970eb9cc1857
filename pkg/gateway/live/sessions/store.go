package sessions

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"sort"
	"sync"
	"time"
)

const (
	DefaultTTL      = 2 * time.Hour
	DefaultCapacity = 200

	maxConversationIDLen = 120
)

var conversationIDStrip = regexp.MustCompile(`[^a-zA-Z0-9._:-]+`)

// SanitizeConversationID reduces a client-supplied conversation id to
// the safe charset and caps its length. An id that sanitizes to the
// empty string disables per-conversation caching.
func SanitizeConversationID(raw string) string {
	id := conversationIDStrip.ReplaceAllString(raw, "")
	if len(id) > maxConversationIDLen {
		id = id[:maxConversationIDLen]
	}
	return id
}

// Fingerprint returns the short content hash used for screenshot
// dedup. Collisions only cost a skipped or duplicate media send.
func Fingerprint(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])[:16]
}

type storeEntry struct {
	handle         string
	screenshotHash string
	updatedAt      time.Time
}

// Store keeps per-conversation resumption handles and the last sent
// screenshot fingerprint. Entries share one lifetime: a sliding TTL
// refreshed on access, with LRU eviction past the capacity. Every
// access prunes. The lock is internal and never held across network
// sends.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	cap     int
	now     func() time.Time
	entries map[string]*storeEntry
}

// NewStore builds a store; zero ttl/capacity take the defaults, nil
// now takes time.Now.
func NewStore(ttl time.Duration, capacity int, now func() time.Time) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		ttl:     ttl,
		cap:     capacity,
		now:     now,
		entries: make(map[string]*storeEntry),
	}
}

// Handle returns the stored resumption handle for the conversation and
// refreshes its lifetime. Empty id or no live entry yields "".
func (s *Store) Handle(conversationID string) string {
	if conversationID == "" {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	e := s.entries[conversationID]
	if e == nil {
		return ""
	}
	e.updatedAt = s.now()
	return e.handle
}

// SetHandle stores a fresh resumption handle.
func (s *Store) SetHandle(conversationID, handle string) {
	if conversationID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	e := s.entries[conversationID]
	if e == nil {
		e = &storeEntry{}
		s.entries[conversationID] = e
	}
	e.handle = handle
	e.updatedAt = s.now()
}

// ClearHandle drops a handle the remote side refused, keeping the rest
// of the entry so screenshot dedup is unaffected.
func (s *Store) ClearHandle(conversationID string) {
	if conversationID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.entries[conversationID]; e != nil {
		e.handle = ""
		e.updatedAt = s.now()
	}
}

// ShouldSendScreenshot records the fingerprint and reports whether the
// screenshot differs from the last one sent for this conversation.
// The update happens before the comparison result is returned, under
// one lock, so concurrent callers converge instead of both sending.
// An empty conversation id always sends.
func (s *Store) ShouldSendScreenshot(conversationID, fingerprint string) bool {
	if conversationID == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	e := s.entries[conversationID]
	if e == nil {
		e = &storeEntry{}
		s.entries[conversationID] = e
	}
	prev := e.screenshotHash
	e.screenshotHash = fingerprint
	e.updatedAt = s.now()
	return prev != fingerprint
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) pruneLocked() {
	now := s.now()
	for id, e := range s.entries {
		if now.Sub(e.updatedAt) > s.ttl {
			delete(s.entries, id)
		}
	}
	if len(s.entries) <= s.cap {
		return
	}
	type aged struct {
		id string
		at time.Time
	}
	all := make([]aged, 0, len(s.entries))
	for id, e := range s.entries {
		all = append(all, aged{id: id, at: e.updatedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for _, a := range all[:len(all)-s.cap] {
		delete(s.entries, a.id)
	}
}
