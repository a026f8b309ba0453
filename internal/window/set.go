package window

import (
	"fmt"
	"sync"
)

// Set is a concurrency-safe Provider that hosts register surfaces with.
type Set struct {
	mu       sync.RWMutex
	surfaces map[string]Surface
	order    []string
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{surfaces: make(map[string]Surface)}
}

// Add registers s under its label, replacing a surface with the same label.
func (ws *Set) Add(s Surface) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	label := s.Label()
	if _, exists := ws.surfaces[label]; !exists {
		ws.order = append(ws.order, label)
	}
	ws.surfaces[label] = s
}

// Remove drops the surface with label. It reports whether one was present.
func (ws *Set) Remove(label string) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if _, ok := ws.surfaces[label]; !ok {
		return false
	}
	delete(ws.surfaces, label)
	for i, l := range ws.order {
		if l == label {
			ws.order = append(ws.order[:i], ws.order[i+1:]...)
			break
		}
	}
	return true
}

// Has reports whether label is taken.
func (ws *Set) Has(label string) bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	_, ok := ws.surfaces[label]
	return ok
}

// UniqueLabel returns want if it is free, otherwise want-2, want-3, ...
func (ws *Set) UniqueLabel(want string) string {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	if _, taken := ws.surfaces[want]; !taken {
		return want
	}
	for n := 2; ; n++ {
		label := fmt.Sprintf("%s-%d", want, n)
		if _, taken := ws.surfaces[label]; !taken {
			return label
		}
	}
}

// Surfaces returns the registered surfaces in registration order.
func (ws *Set) Surfaces() []Surface {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	out := make([]Surface, 0, len(ws.order))
	for _, label := range ws.order {
		out = append(out, ws.surfaces[label])
	}
	return out
}

// Surface looks up a surface by label.
func (ws *Set) Surface(label string) (Surface, bool) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	s, ok := ws.surfaces[label]
	return s, ok
}

// Len returns the number of registered surfaces.
func (ws *Set) Len() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.surfaces)
}
