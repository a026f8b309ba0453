// Package client speaks the bridge wire protocol: id-correlated calls plus
// the broadcast event stream.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/standardbeagle/wvbridge/internal/protocol"
)

// ErrClosed is returned by calls on a closed client.
var ErrClosed = fmt.Errorf("bridge client closed: %w", protocol.ErrChannelClosed)

// DefaultURL is where a bridge on the first discovery port listens.
const DefaultURL = "ws://127.0.0.1:9223"

// Client is a connection to a bridge. It is safe for concurrent use.
type Client struct {
	ws     *websocket.Conn
	prefix string
	seq    atomic.Uint64

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *protocol.Response
	closed  bool
	err     error

	events chan protocol.Event
	done   chan struct{}
}

// Option configures Dial.
type Option func(*options)

type options struct {
	eventBuffer int
	dialer      *websocket.Dialer
}

// WithEventBuffer sets how many undelivered events are kept before new ones
// are dropped.
func WithEventBuffer(n int) Option {
	return func(o *options) { o.eventBuffer = n }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// Dial connects to the bridge at url.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	o := options{eventBuffer: 256, dialer: websocket.DefaultDialer}
	for _, opt := range opts {
		opt(&o)
	}

	ws, _, err := o.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to bridge at %s: %w", url, err)
	}

	c := &Client{
		ws:      ws,
		prefix:  strconv.FormatInt(time.Now().UnixNano(), 36),
		pending: make(map[string]chan *protocol.Response),
		events:  make(chan protocol.Event, o.eventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers broadcasts. The channel is closed when the connection ends.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Call sends command and waits for its response. A failed response is
// returned together with its error so callers can still read the window
// context.
func (c *Client) Call(ctx context.Context, command string, args any) (*protocol.Response, error) {
	id := c.prefix + "-" + strconv.FormatUint(c.seq.Add(1), 10)
	req, err := protocol.NewRequest(id, command, args)
	if err != nil {
		return nil, err
	}
	frame, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ch := make(chan *protocol.Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", command, err)
	}

	select {
	case resp := <-ch:
		return resp, resp.Err()
	case <-c.done:
		return nil, c.closeErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallInto is Call followed by decoding the response data into out.
func (c *Client) CallInto(ctx context.Context, command string, args, out any) (*protocol.Response, error) {
	resp, err := c.Call(ctx, command, args)
	if err != nil {
		return resp, err
	}
	if out != nil {
		if err := resp.Decode(out); err != nil {
			return resp, fmt.Errorf("decode %s response: %w", command, err)
		}
	}
	return resp, nil
}

// Invoke runs an invoke_command operation.
func (c *Client) Invoke(ctx context.Context, operation string, args any) (*protocol.Response, error) {
	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode %s args: %w", operation, err)
		}
		raw = b
	}
	return c.Call(ctx, protocol.NameInvoke, protocol.InvokeArgs{Command: operation, Args: raw})
}

// Close ends the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, c.err)
	}
	return ErrClosed
}

func (c *Client) readLoop() {
	var readErr error
	defer func() {
		c.mu.Lock()
		c.closed = true
		if !websocket.IsCloseError(readErr, websocket.CloseNormalClosure) {
			c.err = readErr
		}
		c.mu.Unlock()
		close(c.done)
		close(c.events)
	}()

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		c.handleFrame(frame)
	}
}

// handleFrame routes a frame with an id to its caller and anything else to
// the event stream.
func (c *Client) handleFrame(frame []byte) {
	var probe struct {
		ID   *string `json:"id"`
		Type string  `json:"type"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		return
	}

	if probe.ID != nil {
		var resp protocol.Response
		if err := json.Unmarshal(frame, &resp); err != nil {
			return
		}
		c.mu.Lock()
		ch := c.pending[resp.ID]
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- &resp:
			default:
			}
		}
		return
	}

	var ev protocol.Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}
