package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCode classifies a failed response.
type ErrorCode string

const (
	CodeNotFound         ErrorCode = "not_found"
	CodeTimeout          ErrorCode = "timeout"
	CodeUnsupported      ErrorCode = "unsupported"
	CodeMalformedRequest ErrorCode = "malformed_request"
	CodeChannelClosed    ErrorCode = "channel_closed"
	CodeUnknownCommand   ErrorCode = "unknown_command"
	CodeInternal         ErrorCode = "internal"
	// CodeScriptError marks a script that ran and threw. It is not a
	// bridge failure, so no sentinel maps onto it.
	CodeScriptError ErrorCode = "script_error"
)

// Sentinel errors shared by every bridge component. Components wrap them with
// %w so CodeOf can classify the failure.
var (
	ErrNotFound         = errors.New("not found")
	ErrTimeout          = errors.New("timed out")
	ErrUnsupported      = errors.New("unsupported on this platform")
	ErrMalformedRequest = errors.New("malformed request")
	ErrChannelClosed    = errors.New("channel closed")
	ErrUnknownCommand   = errors.New("unknown command")
)

// CodeOf maps an error onto its wire code.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrUnsupported):
		return CodeUnsupported
	case errors.Is(err, ErrMalformedRequest):
		return CodeMalformedRequest
	case errors.Is(err, ErrChannelClosed):
		return CodeChannelClosed
	case errors.Is(err, ErrUnknownCommand):
		return CodeUnknownCommand
	default:
		return CodeInternal
	}
}

// WindowContext describes which surface served a request.
type WindowContext struct {
	WindowLabel  string `json:"windowLabel"`
	TotalWindows int    `json:"totalWindows"`
	Warning      string `json:"warning,omitempty"`
}

// Response answers exactly one Request and carries its id.
type Response struct {
	ID            string          `json:"id"`
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         string          `json:"error,omitempty"`
	Code          ErrorCode       `json:"code,omitempty"`
	WindowContext *WindowContext  `json:"windowContext,omitempty"`
}

// Success builds a successful response. A value that cannot be encoded turns
// the response into an internal failure.
func Success(id string, data any) Response {
	if data == nil {
		return Response{ID: id, Success: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Failure(id, fmt.Errorf("encode result: %w", err))
	}
	return Response{ID: id, Success: true, Data: raw}
}

// Failure builds a failed response from err.
func Failure(id string, err error) Response {
	return Response{
		ID:      id,
		Success: false,
		Error:   err.Error(),
		Code:    CodeOf(err),
	}
}

// WithWindow attaches the window context to the response.
func (r Response) WithWindow(wc *WindowContext) Response {
	r.WindowContext = wc
	return r
}

// Decode unmarshals the response data into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("response %s carries no data", r.ID)
	}
	return json.Unmarshal(r.Data, v)
}

// Err returns the failure as an error, or nil for a successful response.
func (r *Response) Err() error {
	if r.Success {
		return nil
	}
	return &RemoteError{Code: r.Code, Message: r.Error}
}

// RemoteError is a failure reported by the bridge.
type RemoteError struct {
	Code    ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is match the sentinel behind the remote code.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeNotFound:
		return ErrNotFound
	case CodeTimeout:
		return ErrTimeout
	case CodeUnsupported:
		return ErrUnsupported
	case CodeMalformedRequest:
		return ErrMalformedRequest
	case CodeChannelClosed:
		return ErrChannelClosed
	case CodeUnknownCommand:
		return ErrUnknownCommand
	}
	return nil
}

// Event types carried by broadcasts.
const (
	EventIPC = "ipc_event"
	EventApp = "app_event"
)

// Event is pushed to every open connection. It never carries an id.
type Event struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
