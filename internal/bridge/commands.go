package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/standardbeagle/wvbridge/internal/protocol"
)

// CommandRegistry is the host application's table of named internal
// commands reachable through invoke_command.
type CommandRegistry interface {
	Invoke(ctx context.Context, name string, args json.RawMessage) (any, error)
}

// Emitter delivers application-level events to the host's UI.
type Emitter interface {
	Emit(name string, payload json.RawMessage) error
}

// CommandFunc implements one named command.
type CommandFunc func(ctx context.Context, args json.RawMessage) (any, error)

// CommandMap is a CommandRegistry backed by registered functions.
type CommandMap struct {
	mu    sync.RWMutex
	funcs map[string]CommandFunc
}

// NewCommandMap creates an empty command map.
func NewCommandMap() *CommandMap {
	return &CommandMap{funcs: make(map[string]CommandFunc)}
}

// Register adds or replaces the command called name.
func (m *CommandMap) Register(name string, fn CommandFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[name] = fn
}

// Names returns the registered command names, sorted.
func (m *CommandMap) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.funcs))
	for name := range m.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the command called name.
func (m *CommandMap) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	m.mu.RLock()
	fn, ok := m.funcs[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("command '%s' %w", name, protocol.ErrNotFound)
	}
	return fn(ctx, args)
}
