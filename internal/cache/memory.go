package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/scout-dashboard/backend/internal/storage/models"
)

const DefaultMaxEntries = 1000

type memoryEntry struct {
	response  models.NLQResponse
	expiresAt time.Time
	elem      *list.Element
}

// MemoryStore is a bounded in-process store. When full it evicts the
// oldest-inserted key; expired entries are removed lazily on Get.
type MemoryStore struct {
	max int
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*memoryEntry
	order   *list.List
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		max:     maxEntries,
		now:     time.Now,
		entries: make(map[string]*memoryEntry, maxEntries),
		order:   list.New(),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*models.NLQResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(entry.expiresAt) {
		s.removeLocked(key, entry)
		return nil, false, nil
	}

	resp := copyResponse(&entry.response)
	return resp, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, resp *models.NLQResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(ttl)

	if entry, ok := s.entries[key]; ok {
		entry.response = *copyResponse(resp)
		entry.expiresAt = expiresAt
		return nil
	}

	for len(s.entries) >= s.max {
		oldest := s.order.Front()
		if oldest == nil {
			break
		}
		k := oldest.Value.(string)
		s.removeLocked(k, s.entries[k])
	}

	s.entries[key] = &memoryEntry{
		response:  *copyResponse(resp),
		expiresAt: expiresAt,
		elem:      s.order.PushBack(key),
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok {
		s.removeLocked(key, entry)
	}
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) removeLocked(key string, entry *memoryEntry) {
	s.order.Remove(entry.elem)
	delete(s.entries, key)
}

func copyResponse(resp *models.NLQResponse) *models.NLQResponse {
	out := *resp
	if resp.Metadata != nil {
		md := *resp.Metadata
		if md.Cached != nil {
			cached := *md.Cached
			md.Cached = &cached
		}
		out.Metadata = &md
	}
	return &out
}
