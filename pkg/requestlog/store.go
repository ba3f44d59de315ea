package requestlog

import (
	"strings"
	"sync"
)

// Logger records entries.
type Logger interface {
	Log(entry *Entry)
}

// Store keeps entries for later inspection.
type Store interface {
	Logger
	Get(id string) *Entry
	List(filter *Filter) []*Entry
	Clear()
	Count() int
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Method string
	// Path matches by prefix.
	Path       string
	Listener   string
	StatusCode int
	Limit      int
}

func (f *Filter) matches(e *Entry) bool {
	if f == nil {
		return true
	}
	if f.Method != "" && !strings.EqualFold(f.Method, e.Method) {
		return false
	}
	if f.Path != "" && !strings.HasPrefix(e.Path, f.Path) {
		return false
	}
	if f.Listener != "" && f.Listener != e.Listener {
		return false
	}
	if f.StatusCode != 0 && f.StatusCode != e.ResponseStatus {
		return false
	}
	return true
}

// Subscriber receives entries as they are logged.
type Subscriber chan *Entry

// MemoryStore is a bounded in-memory Store. When full, the oldest entry is
// evicted. A capacity of zero or less means unbounded.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	maxCap  int
	subs    []Subscriber
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore holding at most maxCap entries.
func NewMemoryStore(maxCap int) *MemoryStore {
	return &MemoryStore{
		entries: make([]*Entry, 0),
		maxCap:  maxCap,
	}
}

// Log appends entry and notifies subscribers without blocking.
func (s *MemoryStore) Log(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxCap > 0 && len(s.entries) >= s.maxCap {
		s.entries = s.entries[1:]
	}
	s.entries = append(s.entries, entry)

	for _, sub := range s.subs {
		select {
		case sub <- entry:
		default:
		}
	}
}

// Get returns the entry with the given ID, or nil.
func (s *MemoryStore) Get(id string) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// List returns matching entries, oldest first. With a Limit, the most
// recent Limit matches are returned.
func (s *MemoryStore) List(filter *Filter) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if filter.matches(e) {
			result = append(result, e)
		}
	}
	if filter != nil && filter.Limit > 0 && filter.Limit < len(result) {
		result = result[len(result)-filter.Limit:]
	}
	return result
}

// Clear removes all entries.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]
}

// Count returns the number of stored entries.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Subscribe returns a channel receiving new entries and a function that
// unsubscribes and closes it. Entries are dropped when the channel is full.
func (s *MemoryStore) Subscribe() (Subscriber, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := make(Subscriber, 100)
	s.subs = append(s.subs, sub)

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, existing := range s.subs {
				if existing == sub {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					break
				}
			}
			close(sub)
		})
	}
}
