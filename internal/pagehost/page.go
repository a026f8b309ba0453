package pagehost

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/standardbeagle/wvbridge/internal/protocol"
	"github.com/standardbeagle/wvbridge/internal/window"
)

// message is any frame exchanged with the page runtime. Only the fields of
// the given type are set.
type message struct {
	Type string `json:"type"`

	// hello, state
	Label   string `json:"label,omitempty"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Focused bool   `json:"focused,omitempty"`
	Visible bool   `json:"visible,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`

	// eval, eval_result, invoke, invoke_result
	Seq    int64           `json:"seq,omitempty"`
	Code   string          `json:"code,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`

	// script_result
	ExecID  string          `json:"execId,omitempty"`
	Success bool            `json:"success,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`

	// invoke, ipc
	Command    string          `json:"command,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	DurationMs *float64        `json:"durationMs,omitempty"`

	// event, notify
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// page is one connected document, exposed to the bridge as a surface.
type page struct {
	label string
	caps  window.Capabilities
	conn  *websocket.Conn

	writeMu      sync.Mutex
	writeTimeout time.Duration

	mu      sync.Mutex
	info    window.Info
	waiters map[int64]func(string, error)
	closed  bool

	seq atomic.Int64
}

func newPage(label string, conn *websocket.Conn, hello message, caps window.Capabilities, writeTimeout time.Duration) *page {
	p := &page{
		label:        label,
		caps:         caps,
		conn:         conn,
		writeTimeout: writeTimeout,
		waiters:      make(map[int64]func(string, error)),
	}
	p.update(hello)
	return p
}

func (p *page) Label() string { return p.label }

func (p *page) Capabilities() window.Capabilities { return p.caps }

func (p *page) Info() window.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

func (p *page) update(m message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.info = window.Info{
		Label:        p.label,
		Title:        m.Title,
		URL:          m.URL,
		Focused:      m.Focused,
		Visible:      m.Visible,
		IsMain:       p.label == window.MainLabel,
		Width:        m.Width,
		Height:       m.Height,
		Capabilities: p.caps,
	}
}

func (p *page) send(m message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.writeTimeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	if err := p.conn.WriteJSON(m); err != nil {
		return fmt.Errorf("page '%s': %w", p.label, protocol.ErrChannelClosed)
	}
	return nil
}

func (p *page) Eval(script string) error {
	return p.send(message{Type: "eval", Code: script})
}

func (p *page) EvalWithResult(script string, cb func(string, error)) error {
	if !p.caps.DirectResult {
		return fmt.Errorf("direct evaluation in page '%s': %w", p.label, protocol.ErrUnsupported)
	}

	seq := p.seq.Add(1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("page '%s': %w", p.label, protocol.ErrChannelClosed)
	}
	p.waiters[seq] = cb
	p.mu.Unlock()

	if err := p.send(message{Type: "eval", Code: script, Seq: seq}); err != nil {
		p.mu.Lock()
		delete(p.waiters, seq)
		p.mu.Unlock()
		return err
	}
	return nil
}

// complete hands an eval_result to its waiting callback.
func (p *page) complete(m message) {
	p.mu.Lock()
	cb, ok := p.waiters[m.Seq]
	delete(p.waiters, m.Seq)
	p.mu.Unlock()
	if !ok {
		return
	}
	if m.Error != "" {
		cb("", fmt.Errorf("page error: %s", m.Error))
		return
	}
	cb(valueString(m.Value), nil)
}

// shutdown fails every callback still waiting on the page.
func (p *page) shutdown() {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[int64]func(string, error))
	p.closed = true
	p.mu.Unlock()

	for _, cb := range waiters {
		cb("", fmt.Errorf("page '%s' disconnected: %w", p.label, protocol.ErrChannelClosed))
	}
}

// valueString turns an eval_result value into the string form surfaces hand
// to their callbacks.
func valueString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "null"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
