package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/wvbridge/internal/client"
	"github.com/standardbeagle/wvbridge/internal/config"
	wvlog "github.com/standardbeagle/wvbridge/internal/log"
	"github.com/standardbeagle/wvbridge/internal/monitor"
	"github.com/standardbeagle/wvbridge/internal/protocol"
	"github.com/standardbeagle/wvbridge/internal/scripts"
	"github.com/standardbeagle/wvbridge/internal/window"
	"github.com/standardbeagle/wvbridge/internal/window/windowtest"
)

var reportIDPattern = regexp.MustCompile(`reportResult\("([0-9a-f]+)"`)

func newTestBridge(t *testing.T, host Host) (*Server, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Execution.Timeout = 2 * time.Second
	return newTestBridgeWithConfig(t, cfg, host)
}

func newTestBridgeWithConfig(t *testing.T, cfg *config.Config, host Host) (*Server, string) {
	t.Helper()
	if host.Windows == nil {
		host.Windows = window.NewSet()
	}

	s := New(cfg, host, wvlog.Discard())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
		ts.Close()
	})
	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func call(t *testing.T, c *client.Client, command string, args any) (*protocol.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Call(ctx, command, args)
}

func waitEvent(t *testing.T, c *client.Client, match func(protocol.Event) bool) protocol.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "event stream closed")
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return protocol.Event{}
		}
	}
}

func singleWindow(label string, caps window.Capabilities) (*window.Set, *windowtest.Surface) {
	set := window.NewSet()
	surf := windowtest.New(label, caps)
	set.Add(surf)
	return set, surf
}

func TestPing(t *testing.T) {
	_, url := newTestBridge(t, Host{})
	c := dial(t, url)

	resp, err := call(t, c, protocol.NamePing, nil)
	require.NoError(t, err)
	var data string
	require.NoError(t, resp.Decode(&data))
	assert.Equal(t, "pong", data)
}

func TestResponsesFollowRequestOrder(t *testing.T) {
	_, url := newTestBridge(t, Host{})
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	frames := []string{
		`{"id":"1","command":"ping"}`,
		`this is not json`,
		`{"command":"ping"}`,
		`{"id":"2","command":"list_windows"}`,
		`{"id":"3","command":"frobnicate"}`,
	}
	for _, f := range frames {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(f)))
	}
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte(`{"id":"x","command":"ping"}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"id":"4","command":"ping"}`)))

	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ids []string
	for len(ids) < 4 {
		var resp protocol.Response
		require.NoError(t, ws.ReadJSON(&resp))
		ids = append(ids, resp.ID)
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids)
}

func TestUnknownCommand(t *testing.T) {
	_, url := newTestBridge(t, Host{})
	c := dial(t, url)

	resp, err := call(t, c, "frobnicate", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrUnknownCommand))
	assert.Equal(t, protocol.CodeUnknownCommand, resp.Code)
	assert.Equal(t, "unknown command: frobnicate", resp.Error)
}

func TestDispatchHandlesEveryCommand(t *testing.T) {
	set, _ := singleWindow("main", window.Capabilities{DirectResult: true})
	s, _ := newTestBridge(t, Host{Windows: set})

	for _, cmd := range protocol.Commands() {
		t.Run(cmd.String(), func(t *testing.T) {
			resp := s.dispatch(context.Background(), &protocol.Request{ID: "x", Command: cmd.String()})
			assert.Equal(t, "x", resp.ID)
			assert.NotEqual(t, protocol.CodeUnknownCommand, resp.Code)
		})
	}
}

func TestExecuteJS_DirectResult(t *testing.T) {
	set, surf := singleWindow("main", window.Capabilities{DirectResult: true})
	surf.Respond = func(string) (string, error) {
		return `{"success":true,"data":{"title":"Hello"}}`, nil
	}
	_, url := newTestBridge(t, Host{Windows: set})
	c := dial(t, url)

	resp, err := call(t, c, protocol.NameExecuteJS, protocol.ExecuteJSArgs{Script: "({title: document.title})"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Hello"}`, string(resp.Data))
	require.NotNil(t, resp.WindowContext)
	assert.Equal(t, "main", resp.WindowContext.WindowLabel)
	assert.Equal(t, 1, resp.WindowContext.TotalWindows)
	assert.Empty(t, resp.WindowContext.Warning)
}

func TestExecuteJS_ScriptError(t *testing.T) {
	set, surf := singleWindow("main", window.Capabilities{DirectResult: true})
	surf.Respond = func(string) (string, error) {
		return `{"success":false,"error":"boom"}`, nil
	}
	_, url := newTestBridge(t, Host{Windows: set})
	c := dial(t, url)

	resp, err := call(t, c, protocol.NameExecuteJS, protocol.ExecuteJSArgs{Script: "throw new Error('boom')"})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.Equal(t, protocol.CodeScriptError, resp.Code)
	assert.Equal(t, "boom", resp.Error)
	assert.NotNil(t, resp.WindowContext)
}

func TestExecuteJS_ReportedOverWire(t *testing.T) {
	set, surf := singleWindow("main", window.Capabilities{})
	_, url := newTestBridge(t, Host{Windows: set})
	c := dial(t, url)
	reporter := dial(t, url)

	surf.OnEval = func(script string) {
		m := reportIDPattern.FindStringSubmatch(script)
		if m == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = reporter.Call(ctx, protocol.NameScriptResult, protocol.ScriptResultArgs{
			ExecID:  m[1],
			Success: true,
			Data:    json.RawMessage(`42`),
		})
	}

	resp, err := call(t, c, protocol.NameExecuteJS, protocol.ExecuteJSArgs{Script: "6 * 7"})
	require.NoError(t, err)
	assert.JSONEq(t, `42`, string(resp.Data))

	// A second report for the same id finds nothing pending.
	evals := surf.Evals()
	require.NotEmpty(t, evals)
	m := reportIDPattern.FindStringSubmatch(evals[0])
	require.NotNil(t, m)
	late, err := call(t, c, protocol.NameScriptResult, protocol.ScriptResultArgs{ExecID: m[1], Success: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"accepted":false}`, string(late.Data))
}

func TestExecuteJS_UnknownWindow(t *testing.T) {
	set, _ := singleWindow("main", window.Capabilities{DirectResult: true})
	_, url := newTestBridge(t, Host{Windows: set})
	c := dial(t, url)

	resp, err := call(t, c, protocol.NameExecuteJS, protocol.ExecuteJSArgs{
		WindowArgs: protocol.WindowArgs{WindowLabel: "settings"},
		Script:     "1",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrNotFound))
	assert.Equal(t, "window 'settings' not found", resp.Error)
	require.NotNil(t, resp.WindowContext)
	assert.Equal(t, 1, resp.WindowContext.TotalWindows)
}

func TestGetWindowInfo_WarnsWithSeveralWindows(t *testing.T) {
	set := window.NewSet()
	set.Add(windowtest.New("settings", window.Capabilities{}))
	set.Add(windowtest.New("main", window.Capabilities{DirectResult: true}))
	_, url := newTestBridge(t, Host{Windows: set})
	c := dial(t, url)

	var info window.Info
	resp, err := c.CallInto(context.Background(), protocol.NameGetWindowInfo, nil, &info)
	require.NoError(t, err)
	assert.Equal(t, "main", info.Label)
	assert.True(t, info.IsMain)
	assert.True(t, info.Capabilities.DirectResult)
	assert.Contains(t, resp.WindowContext.Warning, "Available windows: main, settings")

	var list []window.Info
	_, err = c.CallInto(context.Background(), protocol.NameListWindows, nil, &list)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "main", list[0].Label)
}

func TestScriptLifecycle(t *testing.T) {
	set, surf := singleWindow("main", window.Capabilities{})
	_, url := newTestBridge(t, Host{Windows: set})
	c := dial(t, url)

	_, err := call(t, c, protocol.NameRegisterScript, protocol.RegisterScriptArgs{ID: "a", Type: "inline", Content: "window.a = 1"})
	require.NoError(t, err)
	resp, err := call(t, c, protocol.NameRegisterScript, protocol.RegisterScriptArgs{ID: "b", Type: "url", Content: "https://example.com/b.js"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"registered":true,"scriptId":"b"}`, string(resp.Data))
	_, err = call(t, c, protocol.NameRegisterScript, protocol.RegisterScriptArgs{ID: "a", Type: "inline", Content: "window.a = 2"})
	require.NoError(t, err)

	var listed struct {
		Scripts []scripts.Entry `json:"scripts"`
	}
	_, err = c.CallInto(context.Background(), protocol.NameGetScripts, nil, &listed)
	require.NoError(t, err)
	require.Len(t, listed.Scripts, 2)
	assert.Equal(t, "a", listed.Scripts[0].ID)
	assert.Equal(t, "window.a = 2", listed.Scripts[0].Content)

	evals := surf.Evals()
	require.Len(t, evals, 3)
	assert.Contains(t, evals[0], scripts.Attribute)

	resp, err = call(t, c, protocol.NameRemoveScript, protocol.RemoveScriptArgs{ID: "a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"removed":true,"scriptId":"a"}`, string(resp.Data))

	resp, err = call(t, c, protocol.NameRemoveScript, protocol.RemoveScriptArgs{ID: "a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"removed":false,"scriptId":"a"}`, string(resp.Data))

	resp, err = call(t, c, protocol.NameClearScripts, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cleared":1}`, string(resp.Data))
}

func TestRemoveScript_DOMFailureStillSucceeds(t *testing.T) {
	set, surf := singleWindow("main", window.Capabilities{})
	s, url := newTestBridge(t, Host{Windows: set})
	c := dial(t, url)

	_, err := call(t, c, protocol.NameRegisterScript, protocol.RegisterScriptArgs{ID: "a", Type: "inline", Content: "1"})
	require.NoError(t, err)

	surf.EvalErr = errors.New("webview gone")
	resp, err := call(t, c, protocol.NameRemoveScript, protocol.RemoveScriptArgs{ID: "a"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Error, "webview gone")
	assert.Equal(t, 0, s.Scripts().Len())
}

func TestRegisterScript_Invalid(t *testing.T) {
	set, _ := singleWindow("main", window.Capabilities{})
	s, url := newTestBridge(t, Host{Windows: set})
	c := dial(t, url)

	_, err := call(t, c, protocol.NameRegisterScript, protocol.RegisterScriptArgs{ID: "a", Type: "module", Content: "1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrMalformedRequest))
	assert.Equal(t, 0, s.Scripts().Len())
}

func TestSurfaceLoadedReplaysScripts(t *testing.T) {
	set, _ := singleWindow("main", window.Capabilities{})
	s, url := newTestBridge(t, Host{Windows: set})
	c := dial(t, url)

	for _, id := range []string{"one", "two"} {
		_, err := call(t, c, protocol.NameRegisterScript, protocol.RegisterScriptArgs{ID: id, Type: "inline", Content: "void 0"})
		require.NoError(t, err)
	}

	reloaded := windowtest.New("popup", window.Capabilities{})
	s.SurfaceLoaded(reloaded)

	evals := reloaded.Evals()
	require.Len(t, evals, 2)
	assert.Contains(t, evals[0], `"one"`)
	assert.Contains(t, evals[1], `"two"`)

	ev := waitEvent(t, c, func(ev protocol.Event) bool { return ev.Name == "scripts_replayed" })
	assert.Equal(t, protocol.EventApp, ev.Type)
}

type capturingSurface struct {
	*windowtest.Surface
}

func (capturingSurface) CaptureViewport(context.Context) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img, nil
}

func TestCaptureScreenshot(t *testing.T) {
	set := window.NewSet()
	set.Add(capturingSurface{windowtest.New("main", window.Capabilities{NativeCapture: true})})
	set.Add(windowtest.New("plain", window.Capabilities{}))
	_, url := newTestBridge(t, Host{Windows: set})
	c := dial(t, url)

	var dataURL string
	_, err := c.CallInto(context.Background(), protocol.NameCaptureScreenshot,
		protocol.ScreenshotArgs{WindowArgs: protocol.WindowArgs{WindowLabel: "main"}, Format: "jpeg"}, &dataURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dataURL, "data:image/jpeg;base64,"))

	_, err = call(t, c, protocol.NameCaptureScreenshot, protocol.ScreenshotArgs{WindowArgs: protocol.WindowArgs{WindowLabel: "plain"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrUnsupported))

	bad := 150
	_, err = call(t, c, protocol.NameCaptureScreenshot, protocol.ScreenshotArgs{Quality: &bad})
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrMalformedRequest))
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (e *recordingEmitter) Emit(name string, _ json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, name)
	return nil
}

func (e *recordingEmitter) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func TestInvoke_BuiltinsAndHostCommands(t *testing.T) {
	set, _ := singleWindow("main", window.Capabilities{})
	commands := NewCommandMap()
	commands.Register("echo", func(_ context.Context, args json.RawMessage) (any, error) {
		return args, nil
	})
	emitter := &recordingEmitter{}
	s, url := newTestBridge(t, Host{Windows: set, Commands: commands, Emitter: emitter})
	c := dial(t, url)
	ctx := context.Background()

	resp, err := c.Invoke(ctx, protocol.OpStartIPCMonitor, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"monitoring":true}`, string(resp.Data))

	resp, err = c.Invoke(ctx, "echo", map[string]string{"msg": "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg":"hi"}`, string(resp.Data))

	ev := waitEvent(t, c, func(ev protocol.Event) bool { return ev.Type == protocol.EventIPC })
	assert.Equal(t, "echo", ev.Name)

	_, err = c.Invoke(ctx, "missing", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrNotFound))

	resp, err = c.Invoke(ctx, protocol.OpGetIPCEvents, nil)
	require.NoError(t, err)
	var logged struct {
		Events     []monitor.Event `json:"events"`
		Monitoring bool            `json:"monitoring"`
	}
	require.NoError(t, resp.Decode(&logged))
	assert.True(t, logged.Monitoring)
	require.Len(t, logged.Events, 2)
	assert.Equal(t, "echo", logged.Events[0].Command)
	assert.NotNil(t, logged.Events[0].DurationMs)
	assert.Equal(t, "missing", logged.Events[1].Command)
	assert.NotEmpty(t, logged.Events[1].Error)

	resp, err = c.Invoke(ctx, protocol.OpStopIPCMonitor, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"monitoring":false}`, string(resp.Data))
	_, err = c.Invoke(ctx, "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Monitor().Len())

	_, err = c.Invoke(ctx, protocol.OpEmitEvent, protocol.EmitEventArgs{EventName: "refresh"})
	require.NoError(t, err)
	assert.Equal(t, []string{"refresh"}, emitter.names())

	var state BackendState
	resp, err = c.Invoke(ctx, protocol.OpGetBackendState, nil)
	require.NoError(t, err)
	require.NoError(t, resp.Decode(&state))
	assert.Equal(t, "wvbridge", state.App.Name)
	assert.Equal(t, 1, state.WindowCount)
	assert.NotZero(t, state.Timestamp)
}

func TestInvoke_EmitEventWithoutEmitter(t *testing.T) {
	_, url := newTestBridge(t, Host{})
	c := dial(t, url)

	_, err := c.Invoke(context.Background(), protocol.OpEmitEvent, protocol.EmitEventArgs{EventName: "refresh"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrUnsupported))
}

func TestBroadcastCarriesNoID(t *testing.T) {
	s, url := newTestBridge(t, Host{})
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	// The ping response proves the connection is subscribed.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"id":"p","command":"ping"}`)))
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	require.NoError(t, err)

	s.Notify("window_opened", map[string]string{"windowLabel": "main"})

	_, frame, err := ws.ReadMessage()
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(frame, &raw))
	assert.NotContains(t, raw, "id")
	assert.Equal(t, protocol.EventApp, raw["type"])
	assert.Equal(t, "window_opened", raw["name"])
}

func TestStopFailsPendingExecutions(t *testing.T) {
	set, _ := singleWindow("main", window.Capabilities{})
	s, url := newTestBridge(t, Host{Windows: set})
	c := dial(t, url)

	errCh := make(chan error, 1)
	go func() {
		_, err := call(t, c, protocol.NameExecuteJS, protocol.ExecuteJSArgs{Script: "new Promise(() => {})"})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return s.Store().Pending() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("pending call was not released by Stop")
	}
	assert.Equal(t, 0, s.Store().Pending())
}

// gatedProvider blocks the first Surfaces call until release is closed.
type gatedProvider struct {
	*window.Set
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedProvider() *gatedProvider {
	return &gatedProvider{
		Set:     window.NewSet(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (p *gatedProvider) Surfaces() []window.Surface {
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
	return p.Set.Surfaces()
}

func TestStop_InFlightBackendStateFinishes(t *testing.T) {
	provider := newGatedProvider()
	s, url := newTestBridge(t, Host{Windows: provider})
	c := dial(t, url)

	go func() {
		_, _ = c.Invoke(context.Background(), protocol.OpGetBackendState, nil)
	}()

	select {
	case <-provider.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("get_backend_state never reached the provider")
	}

	stopped := make(chan error, 1)
	start := time.Now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		stopped <- s.Stop(ctx)
	}()

	// Let Stop get underway while the handler is still blocked.
	time.Sleep(100 * time.Millisecond)
	close(provider.release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	case <-time.After(4 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStalledPeerIsReleased(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Connection.ResponseQueue = 1
	cfg.Connection.WriteTimeout = 200 * time.Millisecond
	s, url := newTestBridgeWithConfig(t, cfg, Host{})

	s.Scripts().Add(scripts.Entry{ID: "big", Type: scripts.KindInline, Content: strings.Repeat("x", 8<<20)})

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return s.Stats().Connections == 1 }, 2*time.Second, 10*time.Millisecond)

	// Never read: the writer times out while the reader waits on a full queue.
	for i := 0; i < 8; i++ {
		frame := `{"id":"` + string(rune('a'+i)) + `","command":"get_scripts"}`
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
	}

	require.Eventually(t, func() bool {
		return s.Stats().Connections == 0 && s.hub.Subscribers() == 0
	}, 5*time.Second, 20*time.Millisecond, "stalled connection was never torn down")
}

func TestTwoConnections_BroadcastAndIsolation(t *testing.T) {
	set, _ := singleWindow("main", window.Capabilities{})
	s, url := newTestBridge(t, Host{Windows: set})

	a, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer a.Close()
	_ = a.SetReadDeadline(time.Now().Add(5 * time.Second))
	b := dial(t, url)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"id":"1","command":"list_windows"}`)))
	var resp protocol.Response
	require.NoError(t, a.ReadJSON(&resp))
	assert.Equal(t, "1", resp.ID)
	assert.True(t, resp.Success)

	// B is subscribed once it has been answered.
	_, err = call(t, b, protocol.NamePing, nil)
	require.NoError(t, err)

	s.Notify("window_opened", map[string]string{"windowLabel": "main"})

	_, frame, err := a.ReadMessage()
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(frame, &raw))
	assert.NotContains(t, raw, "id")
	assert.Equal(t, "window_opened", raw["name"])

	ev := waitEvent(t, b, func(ev protocol.Event) bool { return ev.Name == "window_opened" })
	assert.Equal(t, protocol.EventApp, ev.Type)

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return s.Stats().Connections == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"id":"2","command":"ping"}`)))
	resp = protocol.Response{}
	require.NoError(t, a.ReadJSON(&resp))
	assert.Equal(t, "2", resp.ID)
	assert.True(t, resp.Success)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
}
