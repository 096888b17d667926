package notification

import "sync"

// Store is an ordered in-memory collection, most recently appended first, with
// an unread counter driven by the presentation panel's open/closed signal.
//
// It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	items     []Notification
	unread    int
	panelOpen bool
}

func NewStore() *Store { return &Store{} }

// Append prepends n. While the panel is closed the unread counter grows by one.
func (s *Store) Append(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, Notification{})
	copy(s.items[1:], s.items)
	s.items[0] = n
	if !s.panelOpen {
		s.unread++
	}
}

// Remove drops the entry with the given id and reports whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			s.clampUnreadLocked()
			return true
		}
	}
	return false
}

// ClearAll empties the store and returns how many entries were dropped.
func (s *Store) ClearAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items)
	s.items = nil
	s.unread = 0
	return n
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// List returns a copy of the entries, most recent first.
func (s *Store) List() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Notification(nil), s.items...)
}

func (s *Store) Get(id string) (Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.items {
		if n.ID == id {
			return n, true
		}
	}
	return Notification{}, false
}

func (s *Store) Unread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// SetPanelOpen records the presentation panel state. Opening it marks everything read.
func (s *Store) SetPanelOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panelOpen = open
	if open {
		s.unread = 0
	}
}

func (s *Store) PanelOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.panelOpen
}

// unread can never exceed what is left to read.
func (s *Store) clampUnreadLocked() {
	if s.unread > len(s.items) {
		s.unread = len(s.items)
	}
}
