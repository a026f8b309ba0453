// Package pagehost is the reference host for the bridge: a reverse proxy that
// injects a small runtime into every HTML page and exposes each connected
// page as a window surface.
package pagehost

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/standardbeagle/wvbridge/internal/config"
	"github.com/standardbeagle/wvbridge/internal/jsexec"
	"github.com/standardbeagle/wvbridge/internal/monitor"
	"github.com/standardbeagle/wvbridge/internal/protocol"
	"github.com/standardbeagle/wvbridge/internal/window"
)

// Sink receives what pages report. The bridge server implements it.
type Sink interface {
	ReportResult(execID string, r jsexec.Result) bool
	RecordIPC(e monitor.Event) bool
	Notify(name string, payload any)
	SurfaceLoaded(surf window.Surface)
	Invoke(ctx context.Context, name string, args json.RawMessage) (any, error)
}

const helloTimeout = 10 * time.Second

const blankPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>wvbridge</title></head>
<body></body>
</html>
`

// Server proxies a web app and tracks the pages it serves.
type Server struct {
	cfg    config.PageHostConfig
	target *url.URL
	log    *slog.Logger

	windows  *window.Set
	proxy    *httputil.ReverseProxy
	upgrader websocket.Upgrader

	sinkMu sync.RWMutex
	sink   Sink

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	running    atomic.Bool
	cancel     context.CancelFunc

	labelMu sync.Mutex
	pages   sync.Map // label -> *page
	pageSeq atomic.Int64
	wg      sync.WaitGroup

	writeTimeout time.Duration
	// labelWait is how long a page asking for a taken label waits for its
	// holder to disconnect, as happens on reload.
	labelWait time.Duration
}

// New creates a page host. An empty cfg.Target serves a blank page.
func New(cfg config.PageHostConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:          cfg,
		log:          logger.With("component", "pagehost"),
		windows:      window.NewSet(),
		writeTimeout: 10 * time.Second,
		labelWait:    750 * time.Millisecond,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if cfg.Target != "" {
		target, err := url.Parse(cfg.Target)
		if err != nil {
			return nil, fmt.Errorf("invalid target URL: %w", err)
		}
		if target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("invalid target URL %q: scheme and host are required", cfg.Target)
		}
		s.target = target
		s.proxy = httputil.NewSingleHostReverseProxy(target)
		s.proxy.ErrorHandler = s.errorHandler
		s.proxy.ModifyResponse = s.modifyResponse
	}
	return s, nil
}

// Attach connects the page host to its sink. Pages that connect before a
// sink is attached are still tracked but their reports are dropped.
func (s *Server) Attach(sink Sink) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	s.sink = sink
}

func (s *Server) currentSink() Sink {
	s.sinkMu.RLock()
	defer s.sinkMu.RUnlock()
	return s.sink
}

// Windows exposes the connected pages.
func (s *Server) Windows() window.Provider {
	return s.windows
}

// Handler serves the proxy, the runtime and the page socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(SocketPath, s.handlePage)
	mux.HandleFunc(RuntimePath, s.handleRuntime)
	mux.HandleFunc("/", s.handleProxy)
	return mux
}

// Start listens on the configured address, falling back to an OS-assigned
// port when it is taken.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return errors.New("page host already running")
	}

	addr := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if !isAddressInUse(err) {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		s.log.Warn("page host port busy, using a free port", "addr", addr)
		listener, err = net.Listen("tcp", net.JoinHostPort(s.cfg.BindAddress, "0"))
		if err != nil {
			return fmt.Errorf("failed to find available port: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	s.running.Store(true)

	target := "(blank page)"
	if s.target != nil {
		target = s.target.String()
	}
	s.log.Info("page host listening", "addr", listener.Addr().String(), "target", target)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("page host stopped", "error", err)
		}
	}()
	return nil
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

// Stop disconnects every page and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, httpServer := s.cancel, s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var errs []error
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	s.pages.Range(func(_, value any) bool {
		_ = value.(*page).conn.Close()
		return true
	})
	s.running.Store(false)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for pages: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}

// Emit forwards an application event to every connected page.
func (s *Server) Emit(name string, payload json.RawMessage) error {
	var errs []error
	sent := 0
	s.pages.Range(func(_, value any) bool {
		if err := value.(*page).send(message{Type: "event", Name: name, Payload: payload}); err != nil {
			errs = append(errs, err)
		} else {
			sent++
		}
		return true
	})
	if sent == 0 && len(errs) == 0 {
		return fmt.Errorf("no pages connected: %w", protocol.ErrNotFound)
	}
	return errors.Join(errs...)
}

func (s *Server) handleRuntime(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, RuntimeScript())
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if s.proxy == nil {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		body := InjectRuntime([]byte(blankPage))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
		return
	}
	s.proxy.ServeHTTP(w, r)
}

// modifyResponse injects the runtime into HTML responses.
func (s *Server) modifyResponse(resp *http.Response) error {
	if !ShouldInject(resp.Header.Get("Content-Type")) {
		return nil
	}

	encoding := strings.ToLower(resp.Header.Get("Content-Encoding"))
	var bodyReader io.ReadCloser = resp.Body

	switch {
	case strings.Contains(encoding, "gzip"):
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			// Not actually gzip; pass the body through untouched.
			return nil
		}
		defer gz.Close()
		bodyReader = gz
	case strings.Contains(encoding, "deflate"):
		bodyReader = flate.NewReader(resp.Body)
		defer bodyReader.Close()
	case encoding != "" && encoding != "identity":
		return nil
	}

	body, err := io.ReadAll(bodyReader)
	if err != nil {
		return err
	}
	resp.Body.Close()

	modified := InjectRuntime(body)
	resp.Body = io.NopCloser(bytes.NewReader(modified))
	resp.ContentLength = int64(len(modified))
	resp.Header.Set("Content-Length", strconv.Itoa(len(modified)))
	resp.Header.Del("Content-Encoding")
	return nil
}

func (s *Server) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Warn("proxy error", "method", r.Method, "url", r.URL.String(), "error", err)

	var msg string
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		msg = fmt.Sprintf("Proxy Error: Cannot connect to target server %s. Make sure the server is running.", s.target)
	case strings.Contains(errStr, "no such host"):
		msg = fmt.Sprintf("Proxy Error: Cannot resolve target host %s. Check the target URL.", s.target)
	case strings.Contains(errStr, "context canceled"):
		msg = fmt.Sprintf("Proxy Error: Request canceled. The page host may be shutting down, or the target server (%s) is unavailable.", s.target)
	default:
		msg = fmt.Sprintf("Proxy Error: %s (target: %s)", errStr, s.target)
	}
	http.Error(w, msg, http.StatusBadGateway)
}

func isAddressInUse(err error) bool {
	return err != nil && strings.Contains(err.Error(), "address already in use")
}

// pickLabel chooses a label for a page that asked for want.
func (s *Server) pickLabel(want string) string {
	if want == "" {
		if !s.windows.Has(window.MainLabel) {
			want = window.MainLabel
		} else {
			want = fmt.Sprintf("page-%d", s.pageSeq.Add(1))
		}
	}
	return s.windows.UniqueLabel(want)
}

// awaitLabel gives the current holder of label up to labelWait to go away.
// A reloading page reconnects before its old socket is noticed as closed.
func (s *Server) awaitLabel(ctx context.Context, label string) {
	deadline := time.NewTimer(s.labelWait)
	defer deadline.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

	for s.windows.Has(label) {
		select {
		case <-tick.C:
		case <-deadline.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handlePage serves one page runtime connection. The first frame must be a
// hello; the page is a surface from then until it disconnects.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("page upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	var hello message
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "hello" {
		s.log.Debug("page did not say hello", "remote", r.RemoteAddr, "error", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if hello.Label != "" {
		s.awaitLabel(r.Context(), hello.Label)
	}

	caps := window.Capabilities{DirectResult: s.cfg.DirectEval}
	s.labelMu.Lock()
	p := newPage(s.pickLabel(hello.Label), conn, hello, caps, s.writeTimeout)
	s.windows.Add(p)
	s.labelMu.Unlock()
	s.pages.Store(p.label, p)
	s.wg.Add(1)

	log := s.log.With("window", p.label)
	log.Info("page connected", "url", hello.URL)

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		p.shutdown()
		s.pages.Delete(p.label)
		s.windows.Remove(p.label)
		if sink := s.currentSink(); sink != nil {
			sink.Notify("window_closed", map[string]string{"windowLabel": p.label})
		}
		log.Info("page disconnected")
		s.wg.Done()
	}()

	if err := p.send(message{Type: "welcome", Label: p.label}); err != nil {
		return
	}
	if sink := s.currentSink(); sink != nil {
		sink.SurfaceLoaded(p)
		sink.Notify("window_opened", p.Info())
	}

	for {
		var m message
		if err := conn.ReadJSON(&m); err != nil {
			return
		}
		s.handleMessage(ctx, p, m)
	}
}

func (s *Server) handleMessage(ctx context.Context, p *page, m message) {
	sink := s.currentSink()

	switch m.Type {
	case "state", "hello":
		p.update(m)
	case "eval_result":
		p.complete(m)
	case "script_result":
		if sink == nil || m.ExecID == "" {
			return
		}
		sink.ReportResult(m.ExecID, jsexec.Result{Success: m.Success, Data: m.Data, Error: m.Error})
	case "invoke":
		if sink == nil {
			_ = p.send(message{Type: "invoke_result", Seq: m.Seq, Error: "page host is not attached to a bridge"})
			return
		}
		go s.invoke(ctx, sink, p, m)
	case "ipc":
		if sink == nil || m.Command == "" {
			return
		}
		sink.RecordIPC(monitor.Event{
			Command:    m.Command,
			Args:       m.Args,
			Result:     m.Result,
			Error:      m.Error,
			DurationMs: m.DurationMs,
		})
	case "notify":
		if sink != nil && m.Name != "" {
			sink.Notify(m.Name, m.Payload)
		}
	default:
		s.log.Debug("ignoring page message", "window", p.label, "type", m.Type)
	}
}

func (s *Server) invoke(ctx context.Context, sink Sink, p *page, m message) {
	reply := message{Type: "invoke_result", Seq: m.Seq}
	result, err := sink.Invoke(ctx, m.Command, m.Args)
	if err != nil {
		reply.Error = err.Error()
	} else if raw, mErr := json.Marshal(result); mErr != nil {
		reply.Error = mErr.Error()
	} else {
		reply.Result = raw
	}
	if err := p.send(reply); err != nil {
		s.log.Debug("invoke reply not delivered", "window", p.label, "error", err)
	}
}
