// Package jsexec runs script snippets inside UI surfaces and correlates each
// run with exactly one completion.
package jsexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/standardbeagle/wvbridge/internal/protocol"
)

// DefaultTimeout bounds how long Await waits when no timeout is given.
const DefaultTimeout = 5 * time.Second

// ErrStoreClosed is returned by Begin after Close.
var ErrStoreClosed = fmt.Errorf("execution store closed: %w", protocol.ErrChannelClosed)

// Result is the completion of one script run.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type pending struct {
	slot     chan Result
	resolved bool
	awaiting bool
}

// Store holds pending executions keyed by id. An entry is removed exactly
// once: by the Await that consumed or gave up on it, or by Discard.
type Store struct {
	mu      sync.Mutex
	entries map[string]*pending
	closed  bool
	done    chan struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*pending),
		done:    make(chan struct{}),
	}
}

// NewID returns a fresh execution id. Ids have no dashes so they can be used
// as JavaScript identifier suffixes.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Begin registers a new pending execution and returns its id.
func (s *Store) Begin() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStoreClosed
	}
	id := NewID()
	s.entries[id] = &pending{slot: make(chan Result, 1)}
	return id, nil
}

// Resolve completes the execution with id. Unknown, already resolved and
// timed-out ids are ignored; the return value reports whether the result was
// accepted. A result delivered before anyone awaits is held for the waiter.
func (s *Store) Resolve(id string, r Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[id]
	if !ok || p.resolved {
		return false
	}
	p.resolved = true
	// The slot has room for exactly one value and resolved guards the send.
	p.slot <- r
	return true
}

// Discard drops an entry whose script never reached a surface.
func (s *Store) Discard(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Await blocks until id is resolved, timeout elapses or ctx is done. A
// non-positive timeout means DefaultTimeout. Only the calling goroutine
// blocks; the store stays available to others.
func (s *Store) Await(ctx context.Context, id string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	s.mu.Lock()
	p, ok := s.entries[id]
	switch {
	case !ok:
		s.mu.Unlock()
		return Result{}, fmt.Errorf("execution %s: %w", id, protocol.ErrNotFound)
	case p.awaiting:
		s.mu.Unlock()
		return Result{}, fmt.Errorf("%w: execution %s is already awaited", protocol.ErrMalformedRequest, id)
	}
	p.awaiting = true
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.slot:
		s.Discard(id)
		return r, nil
	case <-timer.C:
		if r, ok := s.abandon(id, p); ok {
			return r, nil
		}
		return Result{}, fmt.Errorf("execution %s after %s: %w", id, timeout, protocol.ErrTimeout)
	case <-ctx.Done():
		if r, ok := s.abandon(id, p); ok {
			return r, nil
		}
		return Result{}, ctx.Err()
	case <-s.done:
		if r, ok := s.abandon(id, p); ok {
			return r, nil
		}
		return Result{}, fmt.Errorf("execution %s: %w", id, protocol.ErrChannelClosed)
	}
}

// abandon removes the entry for a waiter that is giving up. A result that
// raced the give-up is already in the slot and wins.
func (s *Store) abandon(id string, p *pending) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	if !p.resolved {
		return Result{}, false
	}
	return <-p.slot, true
}

// Pending returns the number of live entries.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close fails every waiter with ErrChannelClosed and rejects later Begins.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	for id, p := range s.entries {
		if !p.awaiting {
			delete(s.entries, id)
		}
	}
}

// IsClosed reports whether err came from a closed store.
func IsClosed(err error) bool {
	return errors.Is(err, protocol.ErrChannelClosed)
}
