package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request is one client frame.
type Request struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// ParseRequest decodes a text frame. Frames that are not JSON objects or that
// lack an id cannot be answered and fail with ErrMalformedRequest.
func ParseRequest(frame []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if req.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedRequest)
	}
	return &req, nil
}

// DecodeArgs unmarshals the request arguments into v. Absent or null args
// leave v untouched.
func (r *Request) DecodeArgs(v any) error {
	trimmed := bytes.TrimSpace(r.Args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: invalid args for %s: %v", ErrMalformedRequest, r.Command, err)
	}
	return nil
}

// NewRequest builds a request frame with encoded arguments.
func NewRequest(id, command string, args any) (*Request, error) {
	req := &Request{ID: id, Command: command}
	if args == nil {
		return req, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	req.Args = raw
	return req, nil
}
