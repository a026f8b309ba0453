// Package windowtest provides an in-memory surface for tests.
package windowtest

import (
	"sync"

	"github.com/standardbeagle/wvbridge/internal/protocol"
	"github.com/standardbeagle/wvbridge/internal/window"
)

// Surface records every script it is asked to evaluate.
type Surface struct {
	label string
	caps  window.Capabilities

	mu    sync.Mutex
	info  window.Info
	evals []string

	// EvalErr is returned by Eval and EvalWithResult when set.
	EvalErr error
	// OnEval runs in its own goroutine after each Eval call.
	OnEval func(script string)
	// Respond produces the value handed to EvalWithResult callbacks. It runs
	// in its own goroutine, like a platform callback would.
	Respond func(script string) (string, error)
}

// New creates a fake surface.
func New(label string, caps window.Capabilities) *Surface {
	return &Surface{
		label: label,
		caps:  caps,
		info:  window.Info{Label: label, Title: label, Visible: true},
	}
}

func (s *Surface) Label() string { return s.label }

func (s *Surface) Capabilities() window.Capabilities { return s.caps }

func (s *Surface) Info() window.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// SetInfo replaces the reported info.
func (s *Surface) SetInfo(info window.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
}

func (s *Surface) Eval(script string) error {
	if s.EvalErr != nil {
		return s.EvalErr
	}
	s.record(script)
	if s.OnEval != nil {
		go s.OnEval(script)
	}
	return nil
}

func (s *Surface) EvalWithResult(script string, cb func(string, error)) error {
	if !s.caps.DirectResult {
		return protocol.ErrUnsupported
	}
	if s.EvalErr != nil {
		return s.EvalErr
	}
	s.record(script)
	respond := s.Respond
	go func() {
		if respond == nil {
			cb("null", nil)
			return
		}
		cb(respond(script))
	}()
	return nil
}

// Evals returns a copy of the scripts evaluated so far.
func (s *Surface) Evals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.evals...)
}

func (s *Surface) record(script string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evals = append(s.evals, script)
}
