// Package protocol defines the JSON wire protocol spoken between bridge
// clients and the bridge server.
package protocol

import "encoding/json"

// Command identifies one operation a client can request. The set is closed:
// names that are not listed here parse to CommandUnknown.
type Command int

const (
	CommandUnknown Command = iota
	CommandPing
	CommandListWindows
	CommandGetWindowInfo
	CommandExecuteJS
	CommandCaptureScreenshot
	CommandRegisterScript
	CommandRemoveScript
	CommandClearScripts
	CommandGetScripts
	CommandInvoke
	CommandScriptResult
)

// Wire names of the commands.
const (
	NamePing              = "ping"
	NameListWindows       = "list_windows"
	NameGetWindowInfo     = "get_window_info"
	NameExecuteJS         = "execute_js"
	NameCaptureScreenshot = "capture_native_screenshot"
	NameRegisterScript    = "register_script"
	NameRemoveScript      = "remove_script"
	NameClearScripts      = "clear_scripts"
	NameGetScripts        = "get_scripts"
	NameInvoke            = "invoke_command"
	NameScriptResult      = "script_result"
)

var commandNames = map[Command]string{
	CommandPing:              NamePing,
	CommandListWindows:       NameListWindows,
	CommandGetWindowInfo:     NameGetWindowInfo,
	CommandExecuteJS:         NameExecuteJS,
	CommandCaptureScreenshot: NameCaptureScreenshot,
	CommandRegisterScript:    NameRegisterScript,
	CommandRemoveScript:      NameRemoveScript,
	CommandClearScripts:      NameClearScripts,
	CommandGetScripts:        NameGetScripts,
	CommandInvoke:            NameInvoke,
	CommandScriptResult:      NameScriptResult,
}

var commandsByName = func() map[string]Command {
	m := make(map[string]Command, len(commandNames))
	for c, name := range commandNames {
		m[name] = c
	}
	return m
}()

// ParseCommand maps a wire name onto the closed command set.
func ParseCommand(name string) Command {
	if c, ok := commandsByName[name]; ok {
		return c
	}
	return CommandUnknown
}

// String returns the wire name, or "unknown".
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "unknown"
}

// Commands lists every known command in declaration order.
func Commands() []Command {
	out := make([]Command, 0, len(commandNames))
	for c := CommandPing; c <= CommandScriptResult; c++ {
		out = append(out, c)
	}
	return out
}

// Operations reachable through invoke_command without a host registry.
const (
	OpGetWindowInfo   = "get_window_info"
	OpGetBackendState = "get_backend_state"
	OpEmitEvent       = "emit_event"
	OpStartIPCMonitor = "start_ipc_monitor"
	OpStopIPCMonitor  = "stop_ipc_monitor"
	OpGetIPCEvents    = "get_ipc_events"
)

// WindowArgs is embedded by every request that targets a surface.
type WindowArgs struct {
	WindowLabel string `json:"windowLabel,omitempty"`
}

// ExecuteJSArgs are the arguments of execute_js.
type ExecuteJSArgs struct {
	WindowArgs
	Script string `json:"script"`
}

// ScreenshotArgs are the arguments of capture_native_screenshot.
type ScreenshotArgs struct {
	WindowArgs
	Format  string `json:"format,omitempty"`
	Quality *int   `json:"quality,omitempty"`
}

// RegisterScriptArgs are the arguments of register_script.
type RegisterScriptArgs struct {
	WindowArgs
	ID      string `json:"id"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// RemoveScriptArgs are the arguments of remove_script.
type RemoveScriptArgs struct {
	WindowArgs
	ID string `json:"id"`
}

// InvokeArgs are the arguments of invoke_command.
type InvokeArgs struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// EmitEventArgs are the arguments of the emit_event operation.
type EmitEventArgs struct {
	EventName string          `json:"eventName"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ScriptResultArgs carry a report-back completion for a pending execution.
type ScriptResultArgs struct {
	ExecID  string          `json:"execId"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}
