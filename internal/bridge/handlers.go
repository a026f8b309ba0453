package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/standardbeagle/wvbridge/internal/capture"
	"github.com/standardbeagle/wvbridge/internal/jsexec"
	"github.com/standardbeagle/wvbridge/internal/protocol"
	"github.com/standardbeagle/wvbridge/internal/scripts"
	"github.com/standardbeagle/wvbridge/internal/window"
)

func decodeArgs(req *protocol.Request, v any) error {
	if err := req.DecodeArgs(v); err != nil {
		return fmt.Errorf("%w: %s args: %v", protocol.ErrMalformedRequest, req.Command, err)
	}
	return nil
}

func (s *Server) handleGetWindowInfo(req *protocol.Request) protocol.Response {
	var args protocol.WindowArgs
	if err := decodeArgs(req, &args); err != nil {
		return protocol.Failure(req.ID, err)
	}
	info, wc, err := s.windowInfo(args.WindowLabel)
	if err != nil {
		return protocol.Failure(req.ID, err).WithWindow(wc)
	}
	return protocol.Success(req.ID, info).WithWindow(wc)
}

func (s *Server) handleExecuteJS(ctx context.Context, req *protocol.Request) protocol.Response {
	var args protocol.ExecuteJSArgs
	if err := decodeArgs(req, &args); err != nil {
		return protocol.Failure(req.ID, err)
	}
	surf, wc, err := s.resolver.Resolve(args.WindowLabel)
	if err != nil {
		return protocol.Failure(req.ID, err).WithWindow(wc)
	}

	result, err := s.executor.Execute(ctx, surf, args.Script)
	if err != nil {
		s.log.Debug("execute_js failed", "window", surf.Label(), "error", err)
		return protocol.Failure(req.ID, err).WithWindow(wc)
	}
	if !result.Success {
		return protocol.Response{
			ID:            req.ID,
			Error:         result.Error,
			Code:          protocol.CodeScriptError,
			WindowContext: wc,
		}
	}

	data := result.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return protocol.Response{ID: req.ID, Success: true, Data: data, WindowContext: wc}
}

func (s *Server) handleCaptureScreenshot(ctx context.Context, req *protocol.Request) protocol.Response {
	var args protocol.ScreenshotArgs
	if err := decodeArgs(req, &args); err != nil {
		return protocol.Failure(req.ID, err)
	}
	opts, err := capture.NewOptions(args.Format, args.Quality)
	if err != nil {
		return protocol.Failure(req.ID, err)
	}
	surf, wc, err := s.resolver.Resolve(args.WindowLabel)
	if err != nil {
		return protocol.Failure(req.ID, err).WithWindow(wc)
	}

	dataURL, err := capture.Viewport(ctx, surf, opts)
	if err != nil {
		return protocol.Failure(req.ID, err).WithWindow(wc)
	}
	return protocol.Success(req.ID, dataURL).WithWindow(wc)
}

func (s *Server) handleRegisterScript(req *protocol.Request) protocol.Response {
	var args protocol.RegisterScriptArgs
	if err := decodeArgs(req, &args); err != nil {
		return protocol.Failure(req.ID, err)
	}
	entry := scripts.Entry{ID: args.ID, Type: scripts.Kind(args.Type), Content: args.Content}
	if err := entry.Validate(); err != nil {
		return protocol.Failure(req.ID, err)
	}

	replaced := s.scripts.Add(entry)
	s.log.Debug("script registered", "script_id", entry.ID, "type", entry.Type, "replaced", replaced)

	surf, wc, err := s.resolver.Resolve(args.WindowLabel)
	if err != nil {
		return protocol.Failure(req.ID, err).WithWindow(wc)
	}
	if err := surf.Eval(scripts.InjectSnippet(entry)); err != nil {
		return protocol.Failure(req.ID, fmt.Errorf("inject script %s: %w", entry.ID, err)).WithWindow(wc)
	}

	return protocol.Success(req.ID, map[string]any{
		"registered": true,
		"scriptId":   entry.ID,
	}).WithWindow(wc)
}

func (s *Server) handleRemoveScript(req *protocol.Request) protocol.Response {
	var args protocol.RemoveScriptArgs
	if err := decodeArgs(req, &args); err != nil {
		return protocol.Failure(req.ID, err)
	}
	if args.ID == "" {
		return protocol.Failure(req.ID, fmt.Errorf("%w: script id is required", protocol.ErrMalformedRequest))
	}

	removed := s.scripts.Remove(args.ID)
	resp := protocol.Success(req.ID, map[string]any{
		"removed":  removed,
		"scriptId": args.ID,
	})
	return s.applyToSurface(resp, args.WindowLabel, scripts.RemoveSnippet(args.ID))
}

func (s *Server) handleClearScripts(req *protocol.Request) protocol.Response {
	var args protocol.WindowArgs
	if err := decodeArgs(req, &args); err != nil {
		return protocol.Failure(req.ID, err)
	}

	cleared := s.scripts.Clear()
	resp := protocol.Success(req.ID, map[string]any{"cleared": cleared})
	return s.applyToSurface(resp, args.WindowLabel, scripts.ClearSnippet())
}

// applyToSurface runs a DOM snippet after a registry change. The registry is
// authoritative, so a surface that cannot be reached only adds a note to the
// successful response.
func (s *Server) applyToSurface(resp protocol.Response, label, snippet string) protocol.Response {
	surf, wc, err := s.resolver.Resolve(label)
	if err != nil {
		resp.Error = err.Error()
		return resp.WithWindow(wc)
	}
	if err := surf.Eval(snippet); err != nil {
		resp.Error = fmt.Sprintf("DOM update failed in window '%s': %v", surf.Label(), err)
	}
	return resp.WithWindow(wc)
}

func (s *Server) handleScriptResult(req *protocol.Request) protocol.Response {
	var args protocol.ScriptResultArgs
	if err := decodeArgs(req, &args); err != nil {
		return protocol.Failure(req.ID, err)
	}
	if args.ExecID == "" {
		return protocol.Failure(req.ID, fmt.Errorf("%w: execId is required", protocol.ErrMalformedRequest))
	}
	accepted := s.ReportResult(args.ExecID, jsexec.Result{
		Success: args.Success,
		Data:    args.Data,
		Error:   args.Error,
	})
	return protocol.Success(req.ID, map[string]bool{"accepted": accepted})
}

// windowInfo resolves label for the get_window_info operation.
func (s *Server) windowInfo(label string) (window.Info, *protocol.WindowContext, error) {
	surf, wc, err := s.resolver.Resolve(label)
	if err != nil {
		return window.Info{}, wc, err
	}
	info := surf.Info()
	info.Label = surf.Label()
	info.IsMain = info.Label == window.MainLabel
	info.Capabilities = surf.Capabilities()
	return info, wc, nil
}
