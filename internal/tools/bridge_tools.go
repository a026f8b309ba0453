// Package tools exposes a running bridge to MCP clients.
package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/wvbridge/internal/monitor"
	"github.com/standardbeagle/wvbridge/internal/protocol"
	"github.com/standardbeagle/wvbridge/internal/scripts"
	"github.com/standardbeagle/wvbridge/internal/window"
)

// Caller sends one bridge command. *client.Client implements it.
type Caller interface {
	Call(ctx context.Context, command string, args any) (*protocol.Response, error)
}

// ExecuteJSInput defines input for webview_execute_js.
type ExecuteJSInput struct {
	Script      string `json:"script" jsonschema:"JavaScript to run. A single expression is returned; use return in multi-statement code"`
	WindowLabel string `json:"window_label,omitempty" jsonschema:"Target window (defaults to main)"`
}

// ExecuteJSOutput defines output for webview_execute_js.
type ExecuteJSOutput struct {
	Result      any    `json:"result"`
	WindowLabel string `json:"window_label,omitempty"`
	Warning     string `json:"warning,omitempty"`
}

// WindowsInput defines input for webview_windows.
type WindowsInput struct {
	Action      string `json:"action,omitempty" jsonschema:"Action: list (default), info"`
	WindowLabel string `json:"window_label,omitempty" jsonschema:"For info: target window (defaults to main)"`
}

// WindowsOutput defines output for webview_windows.
type WindowsOutput struct {
	Windows []window.Info `json:"windows,omitempty"`
	Window  *window.Info  `json:"window,omitempty"`
	Count   int           `json:"count,omitempty"`
	Warning string        `json:"warning,omitempty"`
}

// ScreenshotInput defines input for webview_screenshot.
type ScreenshotInput struct {
	WindowLabel string `json:"window_label,omitempty" jsonschema:"Target window (defaults to main)"`
	Format      string `json:"format,omitempty" jsonschema:"png (default) or jpeg"`
	Quality     *int   `json:"quality,omitempty" jsonschema:"JPEG quality 0-100 (default 90)"`
}

// ScreenshotOutput defines output for webview_screenshot.
type ScreenshotOutput struct {
	MIMEType    string `json:"mime_type"`
	Bytes       int    `json:"bytes"`
	WindowLabel string `json:"window_label,omitempty"`
}

// ScriptsInput defines input for webview_scripts.
type ScriptsInput struct {
	Action      string `json:"action" jsonschema:"Action: register, remove, clear, list"`
	ID          string `json:"id,omitempty" jsonschema:"Script id (register, remove)"`
	Type        string `json:"type,omitempty" jsonschema:"For register: inline (default) or url"`
	Content     string `json:"content,omitempty" jsonschema:"For register: script source or URL"`
	WindowLabel string `json:"window_label,omitempty" jsonschema:"Window to apply the change to (defaults to main)"`
}

// ScriptsOutput defines output for webview_scripts.
type ScriptsOutput struct {
	Registered bool            `json:"registered,omitempty"`
	Removed    bool            `json:"removed,omitempty"`
	Cleared    int             `json:"cleared,omitempty"`
	ScriptID   string          `json:"script_id,omitempty"`
	Scripts    []scripts.Entry `json:"scripts,omitempty"`
	Note       string          `json:"note,omitempty"`
}

// IPCMonitorInput defines input for webview_ipc_monitor.
type IPCMonitorInput struct {
	Action string `json:"action" jsonschema:"Action: start, stop, events"`
	Limit  int    `json:"limit,omitempty" jsonschema:"For events: only the last N events"`
}

// IPCEvent is one captured command invocation.
type IPCEvent struct {
	Timestamp  int64    `json:"timestamp"`
	Command    string   `json:"command"`
	Args       any      `json:"args,omitempty"`
	Result     any      `json:"result,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMs *float64 `json:"duration_ms,omitempty"`
}

// IPCMonitorOutput defines output for webview_ipc_monitor.
type IPCMonitorOutput struct {
	Monitoring bool       `json:"monitoring"`
	Events     []IPCEvent `json:"events,omitempty"`
	Count      int        `json:"count,omitempty"`
}

// InvokeInput defines input for webview_invoke.
type InvokeInput struct {
	Command string         `json:"command" jsonschema:"Command name: a host command or get_backend_state, emit_event, get_window_info"`
	Args    map[string]any `json:"args,omitempty" jsonschema:"Command arguments"`
}

// InvokeOutput defines output for webview_invoke.
type InvokeOutput struct {
	Result any `json:"result"`
}

// RegisterBridgeTools adds the webview tools to the server.
func RegisterBridgeTools(server *mcp.Server, c Caller) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "webview_execute_js",
		Description: `Run JavaScript inside a window and return its value.

Examples:
  webview_execute_js {script: "document.title"}
  webview_execute_js {script: "await fetch('/api/health').then(r => r.status)"}
  webview_execute_js {script: "const n = document.querySelectorAll('a').length; return n;", window_label: "settings"}`,
	}, makeExecuteJSHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name: "webview_windows",
		Description: `List windows or describe one.

Examples:
  webview_windows {}
  webview_windows {action: "info", window_label: "main"}`,
	}, makeWindowsHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name: "webview_screenshot",
		Description: `Capture the visible viewport of a window natively.
Fails with "unsupported" on platforms without native capture.

Examples:
  webview_screenshot {}
  webview_screenshot {format: "jpeg", quality: 70}`,
	}, makeScreenshotHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name: "webview_scripts",
		Description: `Manage scripts injected into every page load.

Examples:
  webview_scripts {action: "register", id: "helpers", content: "window.helpers = {}"}
  webview_scripts {action: "register", id: "lib", type: "url", content: "https://cdn.example.com/lib.js"}
  webview_scripts {action: "list"}
  webview_scripts {action: "remove", id: "helpers"}
  webview_scripts {action: "clear"}`,
	}, makeScriptsHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name: "webview_ipc_monitor",
		Description: `Capture the host's internal command traffic.

Examples:
  webview_ipc_monitor {action: "start"}
  webview_ipc_monitor {action: "events", limit: 20}
  webview_ipc_monitor {action: "stop"}`,
	}, makeIPCMonitorHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name: "webview_invoke",
		Description: `Invoke a named host command.

Examples:
  webview_invoke {command: "get_backend_state"}
  webview_invoke {command: "emit_event", args: {eventName: "refresh", payload: {}}}
  webview_invoke {command: "app_info"}`,
	}, makeInvokeHandler(c))
}

func makeExecuteJSHandler(c Caller) func(context.Context, *mcp.CallToolRequest, ExecuteJSInput) (*mcp.CallToolResult, ExecuteJSOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ExecuteJSInput) (*mcp.CallToolResult, ExecuteJSOutput, error) {
		if strings.TrimSpace(input.Script) == "" {
			return errorResult("script is required"), ExecuteJSOutput{}, nil
		}
		resp, err := c.Call(ctx, protocol.NameExecuteJS, protocol.ExecuteJSArgs{
			WindowArgs: protocol.WindowArgs{WindowLabel: input.WindowLabel},
			Script:     input.Script,
		})
		if err != nil {
			return errorResult(callError(err, resp)), ExecuteJSOutput{}, nil
		}

		out := ExecuteJSOutput{}
		if err := resp.Decode(&out.Result); err != nil {
			return errorResult(fmt.Sprintf("decode result: %v", err)), ExecuteJSOutput{}, nil
		}
		if wc := resp.WindowContext; wc != nil {
			out.WindowLabel = wc.WindowLabel
			out.Warning = wc.Warning
		}
		return nil, out, nil
	}
}

func makeWindowsHandler(c Caller) func(context.Context, *mcp.CallToolRequest, WindowsInput) (*mcp.CallToolResult, WindowsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input WindowsInput) (*mcp.CallToolResult, WindowsOutput, error) {
		switch input.Action {
		case "", "list":
			resp, err := c.Call(ctx, protocol.NameListWindows, nil)
			if err != nil {
				return errorResult(callError(err, resp)), WindowsOutput{}, nil
			}
			var infos []window.Info
			if err := resp.Decode(&infos); err != nil {
				return errorResult(fmt.Sprintf("decode windows: %v", err)), WindowsOutput{}, nil
			}
			return nil, WindowsOutput{Windows: infos, Count: len(infos)}, nil

		case "info":
			resp, err := c.Call(ctx, protocol.NameGetWindowInfo, protocol.WindowArgs{WindowLabel: input.WindowLabel})
			if err != nil {
				return errorResult(callError(err, resp)), WindowsOutput{}, nil
			}
			var info window.Info
			if err := resp.Decode(&info); err != nil {
				return errorResult(fmt.Sprintf("decode window: %v", err)), WindowsOutput{}, nil
			}
			out := WindowsOutput{Window: &info}
			if resp.WindowContext != nil {
				out.Count = resp.WindowContext.TotalWindows
				out.Warning = resp.WindowContext.Warning
			}
			return nil, out, nil

		default:
			return errorResult(fmt.Sprintf("unknown action %q. Use: list, info", input.Action)), WindowsOutput{}, nil
		}
	}
}

func makeScreenshotHandler(c Caller) func(context.Context, *mcp.CallToolRequest, ScreenshotInput) (*mcp.CallToolResult, ScreenshotOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ScreenshotInput) (*mcp.CallToolResult, ScreenshotOutput, error) {
		resp, err := c.Call(ctx, protocol.NameCaptureScreenshot, protocol.ScreenshotArgs{
			WindowArgs: protocol.WindowArgs{WindowLabel: input.WindowLabel},
			Format:     input.Format,
			Quality:    input.Quality,
		})
		if err != nil {
			return errorResult(callError(err, resp)), ScreenshotOutput{}, nil
		}

		var dataURL string
		if err := resp.Decode(&dataURL); err != nil {
			return errorResult(fmt.Sprintf("decode screenshot: %v", err)), ScreenshotOutput{}, nil
		}
		mimeType, data, err := parseDataURL(dataURL)
		if err != nil {
			return errorResult(err.Error()), ScreenshotOutput{}, nil
		}

		out := ScreenshotOutput{MIMEType: mimeType, Bytes: len(data)}
		if resp.WindowContext != nil {
			out.WindowLabel = resp.WindowContext.WindowLabel
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.ImageContent{Data: data, MIMEType: mimeType},
			},
		}, out, nil
	}
}

func makeScriptsHandler(c Caller) func(context.Context, *mcp.CallToolRequest, ScriptsInput) (*mcp.CallToolResult, ScriptsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ScriptsInput) (*mcp.CallToolResult, ScriptsOutput, error) {
		wa := protocol.WindowArgs{WindowLabel: input.WindowLabel}

		var (
			resp *protocol.Response
			err  error
		)
		switch input.Action {
		case "register":
			kind := input.Type
			if kind == "" {
				kind = string(scripts.KindInline)
			}
			resp, err = c.Call(ctx, protocol.NameRegisterScript, protocol.RegisterScriptArgs{
				WindowArgs: wa, ID: input.ID, Type: kind, Content: input.Content,
			})
		case "remove":
			resp, err = c.Call(ctx, protocol.NameRemoveScript, protocol.RemoveScriptArgs{WindowArgs: wa, ID: input.ID})
		case "clear":
			resp, err = c.Call(ctx, protocol.NameClearScripts, wa)
		case "list":
			resp, err = c.Call(ctx, protocol.NameGetScripts, nil)
		default:
			return errorResult(fmt.Sprintf("unknown action %q. Use: register, remove, clear, list", input.Action)), ScriptsOutput{}, nil
		}
		if err != nil {
			return errorResult(callError(err, resp)), ScriptsOutput{}, nil
		}

		var data struct {
			Registered bool            `json:"registered"`
			Removed    bool            `json:"removed"`
			Cleared    int             `json:"cleared"`
			ScriptID   string          `json:"scriptId"`
			Scripts    []scripts.Entry `json:"scripts"`
		}
		if err := resp.Decode(&data); err != nil {
			return errorResult(fmt.Sprintf("decode scripts response: %v", err)), ScriptsOutput{}, nil
		}
		return nil, ScriptsOutput{
			Registered: data.Registered,
			Removed:    data.Removed,
			Cleared:    data.Cleared,
			ScriptID:   data.ScriptID,
			Scripts:    data.Scripts,
			Note:       resp.Error,
		}, nil
	}
}

func makeIPCMonitorHandler(c Caller) func(context.Context, *mcp.CallToolRequest, IPCMonitorInput) (*mcp.CallToolResult, IPCMonitorOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IPCMonitorInput) (*mcp.CallToolResult, IPCMonitorOutput, error) {
		var op string
		switch input.Action {
		case "start":
			op = protocol.OpStartIPCMonitor
		case "stop":
			op = protocol.OpStopIPCMonitor
		case "events":
			op = protocol.OpGetIPCEvents
		default:
			return errorResult(fmt.Sprintf("unknown action %q. Use: start, stop, events", input.Action)), IPCMonitorOutput{}, nil
		}

		resp, err := c.Call(ctx, protocol.NameInvoke, protocol.InvokeArgs{Command: op})
		if err != nil {
			return errorResult(callError(err, resp)), IPCMonitorOutput{}, nil
		}

		var data struct {
			Monitoring bool            `json:"monitoring"`
			Events     []monitor.Event `json:"events"`
		}
		if err := resp.Decode(&data); err != nil {
			return errorResult(fmt.Sprintf("decode monitor response: %v", err)), IPCMonitorOutput{}, nil
		}

		events := data.Events
		if input.Limit > 0 && len(events) > input.Limit {
			events = events[len(events)-input.Limit:]
		}
		out := IPCMonitorOutput{Monitoring: data.Monitoring, Count: len(data.Events)}
		for _, e := range events {
			out.Events = append(out.Events, IPCEvent{
				Timestamp:  e.Timestamp,
				Command:    e.Command,
				Args:       rawToAny(e.Args),
				Result:     rawToAny(e.Result),
				Error:      e.Error,
				DurationMs: e.DurationMs,
			})
		}
		return nil, out, nil
	}
}

func makeInvokeHandler(c Caller) func(context.Context, *mcp.CallToolRequest, InvokeInput) (*mcp.CallToolResult, InvokeOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input InvokeInput) (*mcp.CallToolResult, InvokeOutput, error) {
		if input.Command == "" {
			return errorResult("command is required"), InvokeOutput{}, nil
		}
		var args json.RawMessage
		if input.Args != nil {
			raw, err := json.Marshal(input.Args)
			if err != nil {
				return errorResult(fmt.Sprintf("encode args: %v", err)), InvokeOutput{}, nil
			}
			args = raw
		}

		resp, err := c.Call(ctx, protocol.NameInvoke, protocol.InvokeArgs{Command: input.Command, Args: args})
		if err != nil {
			return errorResult(callError(err, resp)), InvokeOutput{}, nil
		}
		out := InvokeOutput{}
		if len(resp.Data) > 0 {
			if err := resp.Decode(&out.Result); err != nil {
				return errorResult(fmt.Sprintf("decode result: %v", err)), InvokeOutput{}, nil
			}
		}
		return nil, out, nil
	}
}

// callError renders a failed call, adding the window hint when there is one.
func callError(err error, resp *protocol.Response) string {
	msg := err.Error()
	if resp != nil && resp.WindowContext != nil && resp.WindowContext.Warning != "" {
		msg += "\n" + resp.WindowContext.Warning
	}
	return msg
}

func parseDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, fmt.Errorf("screenshot is not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("screenshot data URL has no payload")
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("screenshot data URL is not base64")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return mimeType, data, nil
}

func rawToAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
