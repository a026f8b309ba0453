package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/standardbeagle/wvbridge/internal/protocol"
)

// State is the lifecycle state of one client connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// connection serves one client. The reader dispatches requests in arrival
// order; the writer is the only goroutine that writes to the socket.
type connection struct {
	id     int64
	ws     *websocket.Conn
	server *Server
	state  atomic.Int32

	responses chan []byte
	closeOnce sync.Once
}

func newConnection(id int64, ws *websocket.Conn, s *Server) *connection {
	c := &connection{
		id:        id,
		ws:        ws,
		server:    s,
		responses: make(chan []byte, s.cfg.Connection.ResponseQueue),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *connection) State() State {
	return State(c.state.Load())
}

func (c *connection) setState(st State) {
	c.state.Store(int32(st))
}

// close tears the socket down, which unblocks the reader.
func (c *connection) close() {
	c.closeOnce.Do(func() {
		if c.State() < StateClosing {
			c.setState(StateClosing)
		}
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.ws.Close()
	})
}

func (c *connection) serve(parent context.Context) {
	log := c.server.log.With("conn", c.id)
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	events, unsubscribe := c.server.hub.Subscribe(c.id)
	defer unsubscribe()

	c.setState(StateOpen)
	log.Debug("connection open", "remote", c.ws.RemoteAddr().String())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := c.writeLoop(ctx, events); err != nil {
			log.Debug("writer stopped", "error", err)
		}
		// A dead writer must also stop the reader, including one blocked
		// on a full response queue.
		cancel()
		c.close()
	}()

	if err := c.readLoop(ctx); err != nil && !isNormalClose(err) {
		log.Debug("reader stopped", "error", err)
	}

	c.setState(StateClosing)
	cancel()
	c.close()
	<-writerDone
	c.setState(StateClosed)
	log.Debug("connection closed")
}

func (c *connection) readLoop(ctx context.Context) error {
	cfg := c.server.cfg.Connection
	if cfg.MaxMessageBytes > 0 {
		c.ws.SetReadLimit(cfg.MaxMessageBytes)
	}
	c.ws.SetPongHandler(func(string) error { return nil })

	for {
		kind, frame, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}

		req, err := protocol.ParseRequest(frame)
		if err != nil {
			c.server.log.Warn("dropping malformed frame", "conn", c.id, "error", err)
			continue
		}

		resp := c.server.dispatch(ctx, req)
		raw, err := json.Marshal(resp)
		if err != nil {
			raw, _ = json.Marshal(protocol.Failure(req.ID, err))
		}

		select {
		case c.responses <- raw:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *connection) writeLoop(ctx context.Context, events <-chan []byte) error {
	cfg := c.server.cfg.Connection
	var ping <-chan time.Time
	if cfg.PingInterval > 0 {
		ticker := time.NewTicker(cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.write(frame); err != nil {
				return err
			}
		case frame := <-c.responses:
			if err := c.write(frame); err != nil {
				return err
			}
		case <-ping:
			deadline := time.Now().Add(cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return err
			}
		}
	}
}

func (c *connection) write(frame []byte) error {
	if t := c.server.cfg.Connection.WriteTimeout; t > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(t))
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, context.Canceled)
}
