// Package scripts keeps the set of content scripts that must be present in
// every surface and renders the DOM snippets that apply them.
package scripts

import (
	"fmt"
	"sync"

	"github.com/standardbeagle/wvbridge/internal/protocol"
)

// Kind says how an entry's content is interpreted.
type Kind string

const (
	KindInline Kind = "inline"
	KindURL    Kind = "url"
)

// ParseKind validates a wire kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindInline, KindURL:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: script type must be %q or %q, got %q", protocol.ErrMalformedRequest, KindInline, KindURL, s)
}

// Entry is one registered script.
type Entry struct {
	ID      string `json:"id"`
	Type    Kind   `json:"type"`
	Content string `json:"content"`
}

// Validate checks that the entry can be injected.
func (e Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: script id is required", protocol.ErrMalformedRequest)
	}
	if _, err := ParseKind(string(e.Type)); err != nil {
		return err
	}
	if e.Content == "" {
		return fmt.Errorf("%w: script content is required", protocol.ErrMalformedRequest)
	}
	return nil
}

// Registry is an ordered, concurrency-safe set of entries keyed by id.
type Registry struct {
	mu      sync.Mutex
	entries []Entry
	index   map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Add inserts e, or replaces the entry with the same id in place. It reports
// whether an entry was replaced.
func (r *Registry) Add(e Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[e.ID]; ok {
		r.entries[i] = e
		return true
	}
	r.index[e.ID] = len(r.entries)
	r.entries = append(r.entries, e)
	return false
}

// Remove deletes the entry with id and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return false
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	delete(r.index, id)
	for j := i; j < len(r.entries); j++ {
		r.index[r.entries[j].ID] = j
	}
	return true
}

// Clear empties the registry and returns how many entries it held.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	r.entries = nil
	r.index = make(map[string]int)
	return n
}

// Get returns the entry with id.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// All returns a copy of the entries in registration order.
func (r *Registry) All() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
