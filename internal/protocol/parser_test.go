package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Request
		wantErr bool
	}{
		{
			name:  "command without args",
			input: `{"id":"1","command":"list_windows"}`,
			want:  &Request{ID: "1", Command: "list_windows"},
		},
		{
			name:  "command with args",
			input: `{"id":"abc","command":"execute_js","args":{"script":"1+1"}}`,
			want:  &Request{ID: "abc", Command: "execute_js", Args: []byte(`{"script":"1+1"}`)},
		},
		{
			name:  "unknown command still parses",
			input: `{"id":"2","command":"frobnicate"}`,
			want:  &Request{ID: "2", Command: "frobnicate"},
		},
		{name: "not json", input: `hello`, wantErr: true},
		{name: "json array", input: `[1,2]`, wantErr: true},
		{name: "missing id", input: `{"command":"ping"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.ID, got.ID)
			assert.Equal(t, tt.want.Command, got.Command)
			assert.Equal(t, string(tt.want.Args), string(got.Args))
		})
	}
}

func TestRequest_DecodeArgs(t *testing.T) {
	req := &Request{ID: "1", Command: NameExecuteJS, Args: []byte(`{"script":"document.title","windowLabel":"settings"}`)}
	var args ExecuteJSArgs
	require.NoError(t, req.DecodeArgs(&args))
	assert.Equal(t, "document.title", args.Script)
	assert.Equal(t, "settings", args.WindowLabel)

	empty := &Request{ID: "2", Command: NameListWindows, Args: []byte("null")}
	require.NoError(t, empty.DecodeArgs(&args))
	assert.Equal(t, "document.title", args.Script)

	bad := &Request{ID: "3", Command: NameExecuteJS, Args: []byte(`{"script":5}`)}
	err := bad.DecodeArgs(&args)
	assert.ErrorIs(t, err, ErrMalformedRequest)
}

func TestParseCommand(t *testing.T) {
	for _, c := range Commands() {
		assert.Equal(t, c, ParseCommand(c.String()), "round trip %s", c)
	}
	assert.Equal(t, CommandUnknown, ParseCommand("invoke_tauri"))
	assert.Equal(t, CommandUnknown, ParseCommand(""))
	assert.Equal(t, "unknown", CommandUnknown.String())
	assert.Len(t, Commands(), len(commandNames))
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{fmt.Errorf("window 'x': %w", ErrNotFound), CodeNotFound},
		{fmt.Errorf("exec 1: %w", ErrTimeout), CodeTimeout},
		{ErrUnsupported, CodeUnsupported},
		{fmt.Errorf("%w: bad", ErrMalformedRequest), CodeMalformedRequest},
		{ErrChannelClosed, CodeChannelClosed},
		{ErrUnknownCommand, CodeUnknownCommand},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CodeOf(tt.err), tt.err.Error())
	}
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestResponse_Helpers(t *testing.T) {
	ok := Success("7", map[string]bool{"registered": true})
	assert.True(t, ok.Success)
	assert.JSONEq(t, `{"registered":true}`, string(ok.Data))
	assert.NoError(t, ok.Err())

	var decoded map[string]bool
	require.NoError(t, ok.Decode(&decoded))
	assert.True(t, decoded["registered"])

	failed := Failure("8", fmt.Errorf("window 'x' not found: %w", ErrNotFound))
	assert.False(t, failed.Success)
	assert.Equal(t, CodeNotFound, failed.Code)
	assert.ErrorIs(t, failed.Err(), ErrNotFound)

	withCtx := ok.WithWindow(&WindowContext{WindowLabel: "main", TotalWindows: 1})
	require.NotNil(t, withCtx.WindowContext)
	assert.Nil(t, ok.WindowContext)
}
