package protocol

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(1, MethodInitialize, nil)
	require.NoError(t, err)
	assert.Equal(t, JSONRPCVersion, req.JSONRPC)
	assert.Equal(t, 1, req.ID)
	assert.Empty(t, req.Params)

	req, err = NewRequest("req-2", MethodDefinition, DefinitionParams{
		TextDocument: TextDocumentIdentifier{URI: "file:///repo/a.cs"},
		Position:     Position{Line: 3, Character: 7},
	})
	require.NoError(t, err)

	var decoded DefinitionParams
	require.NoError(t, json.Unmarshal(req.Params, &decoded))
	assert.Equal(t, "file:///repo/a.cs", decoded.TextDocument.URI)
	assert.Equal(t, 3, decoded.Position.Line)
}

func TestNewResponse(t *testing.T) {
	// LSP encodes "no result" as an explicit null.
	resp, err := NewResponse("resp-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(resp.Result))
	assert.Nil(t, resp.Error)

	resp, err = NewResponse("resp-2", []Location{{URI: "file:///a.cs"}})
	require.NoError(t, err)

	var locs []Location
	require.NoError(t, json.Unmarshal(resp.Result, &locs))
	require.Len(t, locs, 1)
	assert.Equal(t, "file:///a.cs", locs[0].URI)
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(7, ServerNotInitialized, "server not initialized", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ServerNotInitialized, resp.Error.Code)
	assert.Equal(t, ErrorCode(-32002), resp.Error.Code)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"result"`)
	assert.Contains(t, string(data), `"code":-32002`)
}

func TestNewNotification(t *testing.T) {
	notif, err := NewNotification(MethodLogMessage, LogMessageParams{Type: MessageInfo, Message: "ready"})
	require.NoError(t, err)
	assert.Equal(t, MethodLogMessage, notif.Method)

	var params LogMessageParams
	require.NoError(t, json.Unmarshal(notif.Params, &params))
	assert.Equal(t, MessageInfo, params.Type)
	assert.Equal(t, "ready", params.Message)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		data string
		want MessageKind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, KindRequest},
		{"string id request", `{"jsonrpc":"2.0","id":"a","method":"shutdown"}`, KindRequest},
		{"response", `{"jsonrpc":"2.0","id":1,"result":null}`, KindResponse},
		{"error response", `{"jsonrpc":"2.0","id":1,"error":{"code":-32600,"message":"x"}}`, KindResponse},
		{"notification", `{"jsonrpc":"2.0","method":"exit"}`, KindNotification},
		{"null id notification", `{"jsonrpc":"2.0","id":null,"method":"exit"}`, KindNotification},
		{"truncated", `{"jsonrpc":"2.0","id":1,"method"`, KindInvalid},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"x"}`, KindInvalid},
		{"empty object", `{"jsonrpc":"2.0"}`, KindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify([]byte(tt.data)))
		})
	}
}

func TestInitializeParamsProcessID(t *testing.T) {
	var withPID InitializeParams
	require.NoError(t, json.Unmarshal([]byte(`{"processId":42,"rootUri":"file:///repo","trace":"off"}`), &withPID))
	require.NotNil(t, withPID.ProcessID)
	assert.Equal(t, 42, *withPID.ProcessID)
	assert.Equal(t, TraceOff, withPID.Trace)

	var without InitializeParams
	require.NoError(t, json.Unmarshal([]byte(`{"processId":null,"rootPath":"/repo"}`), &without))
	assert.Nil(t, without.ProcessID)
}

func TestError_ErrorMethod(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "Typical error",
			err:      &Error{Code: InvalidRequest, Message: "Invalid Request"},
			expected: fmt.Sprintf("jsonrpc: code %d, message: Invalid Request", InvalidRequest),
		},
		{
			name:     "Not initialized",
			err:      &Error{Code: ServerNotInitialized, Message: "server not initialized", Data: "initialize"},
			expected: "jsonrpc: code -32002, message: server not initialized",
		},
		{
			name:     "Nil error",
			err:      nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}
