// Package bridge serves the WebSocket command bridge: it multiplexes client
// requests and broadcast events over long-lived connections and routes each
// command to the window, execution, script and monitor components.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/standardbeagle/wvbridge/internal/config"
	"github.com/standardbeagle/wvbridge/internal/jsexec"
	"github.com/standardbeagle/wvbridge/internal/monitor"
	"github.com/standardbeagle/wvbridge/internal/protocol"
	"github.com/standardbeagle/wvbridge/internal/scripts"
	"github.com/standardbeagle/wvbridge/internal/window"
)

// Host bundles the collaborators the host application provides.
type Host struct {
	// Windows is required.
	Windows window.Provider
	// Commands serves invoke_command names the bridge does not handle
	// itself. Optional.
	Commands CommandRegistry
	// Emitter delivers emit_event. Optional; without it emit_event is
	// unsupported.
	Emitter Emitter
}

// Server is the bridge endpoint.
type Server struct {
	cfg  *config.Config
	host Host
	log  *slog.Logger

	resolver *window.Resolver
	store    *jsexec.Store
	executor *jsexec.Executor
	scripts  *scripts.Registry
	monitor  *monitor.Monitor
	hub      *Hub
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	running    atomic.Bool
	startTime  time.Time

	conns      sync.Map // int64 -> *connection
	nextConnID atomic.Int64
	connCount  atomic.Int64
	wg         sync.WaitGroup

	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a bridge server. It does not listen until Start.
func New(cfg *config.Config, host Host, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bridge")

	ctx, cancel := context.WithCancel(context.Background())
	store := jsexec.NewStore()

	s := &Server{
		cfg:      cfg,
		host:     host,
		log:      logger,
		resolver: window.NewResolver(host.Windows),
		store:    store,
		executor: jsexec.NewExecutor(store, jsexec.Options{
			Timeout:      cfg.Execution.Timeout,
			PollInterval: cfg.Execution.PollInterval,
			PollTimeout:  cfg.Execution.PollTimeout,
			Logger:       logger,
		}),
		scripts: scripts.NewRegistry(),
		hub:     NewHub(cfg.Connection.BroadcastBuffer),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local tooling connects from arbitrary origins
			},
		},
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
	}
	s.monitor = monitor.New(
		monitor.WithMaxEvents(cfg.Monitor.MaxEvents),
		monitor.WithSink(func(e monitor.Event) {
			s.Broadcast(protocol.Event{Type: protocol.EventIPC, Name: e.Command, Payload: e})
		}),
	)
	return s
}

// Handler returns the HTTP handler serving the bridge endpoints. It can be
// mounted on any server; Start uses it too.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start binds the listener and serves in the background. Cancelling ctx
// stops the server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return errors.New("bridge already running")
	}
	if s.ctx.Err() != nil {
		return errors.New("bridge already stopped")
	}

	listener, err := Listen(s.cfg.BindAddress, s.cfg.Port)
	if err != nil {
		return err
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return s.ctx
		},
	}
	s.startTime = time.Now()
	s.running.Store(true)
	s.readyOnce.Do(func() { close(s.ready) })

	s.log.Info("bridge listening", "addr", listener.Addr().String())

	context.AfterFunc(ctx, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Stop(stopCtx); err != nil {
			s.log.Warn("bridge stop", "error", err)
		}
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("bridge server stopped", "error", err)
		}
	}()
	return nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	return ListenerPort(s.listener)
}

// Stop closes every connection, fails pending executions and shuts the
// listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	s.cancel()

	var errs []error
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	s.conns.Range(func(_, value any) bool {
		value.(*connection).close()
		return true
	})
	s.store.Close()
	s.running.Store(false)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for connections: %w", ctx.Err()))
	}

	return errors.Join(errs...)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}
	if s.ctx.Err() != nil {
		http.Error(w, "bridge shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", "error", err)
		return
	}

	id := s.nextConnID.Add(1)
	c := newConnection(id, ws, s)
	s.conns.Store(id, c)
	s.connCount.Add(1)
	s.wg.Add(1)
	defer func() {
		s.conns.Delete(id)
		s.connCount.Add(-1)
		s.wg.Done()
	}()

	c.serve(s.ctx)
}

// Stats is a point-in-time view of the bridge.
type Stats struct {
	Addr              string `json:"addr,omitempty"`
	Connections       int64  `json:"connections"`
	PendingExecutions int    `json:"pendingExecutions"`
	Scripts           int    `json:"scripts"`
	MonitorEnabled    bool   `json:"monitorEnabled"`
	MonitorEvents     int    `json:"monitorEvents"`
	DroppedEvents     int64  `json:"droppedEvents"`
	Uptime            string `json:"uptime,omitempty"`
}

// Stats reports current counters.
func (s *Server) Stats() Stats {
	st := Stats{
		Addr:              s.Addr(),
		Connections:       s.connCount.Load(),
		PendingExecutions: s.store.Pending(),
		Scripts:           s.scripts.Len(),
		MonitorEnabled:    s.monitor.Enabled(),
		MonitorEvents:     s.monitor.Len(),
		DroppedEvents:     s.hub.Dropped(),
	}
	if s.running.Load() {
		st.Uptime = time.Since(s.startTime).Round(time.Second).String()
	}
	return st
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Stats())
}

// Broadcast pushes ev to every open connection.
func (s *Server) Broadcast(ev protocol.Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn("dropping unencodable event", "type", ev.Type, "error", err)
		return
	}
	s.hub.Publish(frame)
}

// Notify broadcasts an application-level notification.
func (s *Server) Notify(name string, payload any) {
	s.Broadcast(protocol.Event{Type: protocol.EventApp, Name: name, Payload: payload})
}

// ReportResult completes a pending execution from the report-back path. It
// reports whether a pending execution accepted the result.
func (s *Server) ReportResult(execID string, r jsexec.Result) bool {
	accepted := s.store.Resolve(execID, r)
	if !accepted {
		s.log.Debug("ignoring result for unknown execution", "exec_id", execID)
	}
	return accepted
}

// RecordIPC logs host command traffic observed outside invoke_command.
func (s *Server) RecordIPC(e monitor.Event) bool {
	return s.monitor.Record(e)
}

// SurfaceLoaded re-applies every registered script to a surface that has
// just (re)loaded its content.
func (s *Server) SurfaceLoaded(surf window.Surface) {
	n, err := s.scripts.Replay(surf)
	if err != nil {
		s.log.Warn("script replay incomplete", "window", surf.Label(), "applied", n, "error", err)
	}
	if n > 0 {
		s.Notify("scripts_replayed", map[string]any{"windowLabel": surf.Label(), "count": n})
	}
}

// Invoke runs a host command and records the invocation in the monitor.
func (s *Server) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	if s.host.Commands == nil {
		return nil, fmt.Errorf("command '%s' %w", name, protocol.ErrNotFound)
	}

	start := time.Now()
	result, err := s.host.Commands.Invoke(ctx, name, args)

	ev := monitor.Event{
		Command:    name,
		Args:       args,
		DurationMs: monitor.Duration(time.Since(start)),
	}
	if err != nil {
		ev.Error = err.Error()
	} else if raw, mErr := json.Marshal(result); mErr == nil {
		ev.Result = raw
	}
	s.monitor.Record(ev)

	return result, err
}

// Scripts exposes the script registry.
func (s *Server) Scripts() *scripts.Registry { return s.scripts }

// Monitor exposes the IPC monitor.
func (s *Server) Monitor() *monitor.Monitor { return s.monitor }

// Store exposes the execution correlation store.
func (s *Server) Store() *jsexec.Store { return s.store }
