package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/standardbeagle/wvbridge/internal/protocol"
	"github.com/standardbeagle/wvbridge/internal/window"
)

// AppInfo identifies the host application.
type AppInfo struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	Version    string `json:"version"`
}

// Environment describes the process the bridge runs in.
type Environment struct {
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Family    string `json:"family"`
	GoVersion string `json:"goVersion"`
}

// BackendState is the answer to the get_backend_state operation.
type BackendState struct {
	App         AppInfo       `json:"app"`
	Environment Environment   `json:"environment"`
	Windows     []window.Info `json:"windows"`
	WindowCount int           `json:"windowCount"`
	Timestamp   int64         `json:"timestamp"`
	Bridge      Stats         `json:"bridge"`
}

// BackendState snapshots the host application and the bridge.
func (s *Server) BackendState() BackendState {
	windows := s.resolver.List()
	return BackendState{
		App: AppInfo{
			Name:       s.cfg.App.Name,
			Identifier: s.cfg.App.Identifier,
			Version:    s.cfg.App.Version,
		},
		Environment: Environment{
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			Family:    osFamily(runtime.GOOS),
			GoVersion: runtime.Version(),
		},
		Windows:     windows,
		WindowCount: len(windows),
		Timestamp:   time.Now().UnixMilli(),
		Bridge:      s.Stats(),
	}
}

func osFamily(goos string) string {
	switch goos {
	case "windows":
		return "windows"
	case "js", "wasip1":
		return "wasm"
	default:
		return "unix"
	}
}

func (s *Server) handleInvoke(ctx context.Context, req *protocol.Request) protocol.Response {
	var args protocol.InvokeArgs
	if err := decodeArgs(req, &args); err != nil {
		return protocol.Failure(req.ID, err)
	}
	if args.Command == "" {
		return protocol.Failure(req.ID, fmt.Errorf("%w: command is required", protocol.ErrMalformedRequest))
	}

	switch args.Command {
	case protocol.OpGetWindowInfo:
		var wa protocol.WindowArgs
		if err := unmarshalOpArgs(args, &wa); err != nil {
			return protocol.Failure(req.ID, err)
		}
		info, wc, err := s.windowInfo(wa.WindowLabel)
		if err != nil {
			return protocol.Failure(req.ID, err).WithWindow(wc)
		}
		return protocol.Success(req.ID, info).WithWindow(wc)

	case protocol.OpGetBackendState:
		return protocol.Success(req.ID, s.BackendState())

	case protocol.OpEmitEvent:
		var ea protocol.EmitEventArgs
		if err := unmarshalOpArgs(args, &ea); err != nil {
			return protocol.Failure(req.ID, err)
		}
		if ea.EventName == "" {
			return protocol.Failure(req.ID, fmt.Errorf("%w: eventName is required", protocol.ErrMalformedRequest))
		}
		if s.host.Emitter == nil {
			return protocol.Failure(req.ID, fmt.Errorf("emit_event: %w", protocol.ErrUnsupported))
		}
		if err := s.host.Emitter.Emit(ea.EventName, ea.Payload); err != nil {
			return protocol.Failure(req.ID, fmt.Errorf("emit %s: %w", ea.EventName, err))
		}
		return protocol.Success(req.ID, map[string]any{"emitted": true, "eventName": ea.EventName})

	case protocol.OpStartIPCMonitor:
		s.monitor.Start()
		return protocol.Success(req.ID, map[string]bool{"monitoring": true})

	case protocol.OpStopIPCMonitor:
		s.monitor.Stop()
		return protocol.Success(req.ID, map[string]bool{"monitoring": false})

	case protocol.OpGetIPCEvents:
		return protocol.Success(req.ID, map[string]any{
			"events":     s.monitor.Snapshot(),
			"monitoring": s.monitor.Enabled(),
		})
	}

	result, err := s.Invoke(ctx, args.Command, args.Args)
	if err != nil {
		return protocol.Failure(req.ID, err)
	}
	return protocol.Success(req.ID, result)
}

func unmarshalOpArgs(args protocol.InvokeArgs, v any) error {
	if len(args.Args) == 0 || string(args.Args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args.Args, v); err != nil {
		return fmt.Errorf("%w: %s args: %v", protocol.ErrMalformedRequest, args.Command, err)
	}
	return nil
}
