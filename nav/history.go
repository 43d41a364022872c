package nav

import "sync"

// Entry is one navigation step.
type Entry struct {
	Category string `json:"category"`
	Post     string `json:"post,omitempty"`
}

// History records navigation steps taken by a Navigator.
type History interface {
	Push(e Entry)
}

// MemoryHistory is an in-process History.
type MemoryHistory struct {
	mu      sync.Mutex
	entries []Entry
}

func (h *MemoryHistory) Push(e Entry) {
	h.mu.Lock()
	h.entries = append(h.entries, e)
	h.mu.Unlock()
}

// Back drops the newest entry and returns the one before it.
func (h *MemoryHistory) Back() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) < 2 {
		return Entry{}, false
	}
	h.entries = h.entries[:len(h.entries)-1]
	return h.entries[len(h.entries)-1], true
}

// Entries returns a copy of the recorded entries, oldest first.
func (h *MemoryHistory) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

type discardHistory struct{}

func (discardHistory) Push(Entry) {}
