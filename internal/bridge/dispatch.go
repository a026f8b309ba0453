package bridge

import (
	"context"
	"fmt"

	"github.com/standardbeagle/wvbridge/internal/protocol"
)

// dispatch runs one request and returns its response. It never fails: every
// error becomes a failed response carrying the request id.
func (s *Server) dispatch(ctx context.Context, req *protocol.Request) protocol.Response {
	cmd := protocol.ParseCommand(req.Command)
	s.log.Debug("dispatch", "id", req.ID, "command", req.Command)

	switch cmd {
	case protocol.CommandPing:
		return protocol.Success(req.ID, "pong")
	case protocol.CommandListWindows:
		return protocol.Success(req.ID, s.resolver.List())
	case protocol.CommandGetWindowInfo:
		return s.handleGetWindowInfo(req)
	case protocol.CommandExecuteJS:
		return s.handleExecuteJS(ctx, req)
	case protocol.CommandCaptureScreenshot:
		return s.handleCaptureScreenshot(ctx, req)
	case protocol.CommandRegisterScript:
		return s.handleRegisterScript(req)
	case protocol.CommandRemoveScript:
		return s.handleRemoveScript(req)
	case protocol.CommandClearScripts:
		return s.handleClearScripts(req)
	case protocol.CommandGetScripts:
		return protocol.Success(req.ID, map[string]any{"scripts": s.scripts.All()})
	case protocol.CommandInvoke:
		return s.handleInvoke(ctx, req)
	case protocol.CommandScriptResult:
		return s.handleScriptResult(req)
	default:
		return protocol.Failure(req.ID, fmt.Errorf("%w: %s", protocol.ErrUnknownCommand, req.Command))
	}
}
