package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/ajitpratap0/langhost/pkg/protocol"
)

func BenchmarkFraming(b *testing.B) {
	payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"textDocument/definition","params":{"textDocument":{"uri":"file:///a.cs"},"position":{"line":10,"character":4}}}`)

	b.Run("Write", func(b *testing.B) {
		var buf bytes.Buffer
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			buf.Reset()
			if err := WriteMessage(&buf, payload); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Read", func(b *testing.B) {
		var framed bytes.Buffer
		if err := WriteMessage(&framed, payload); err != nil {
			b.Fatal(err)
		}
		raw := framed.Bytes()
		r := bytes.NewReader(raw)
		br := bufio.NewReader(r)
		b.ReportAllocs()
		b.SetBytes(int64(len(raw)))
		for i := 0; i < b.N; i++ {
			r.Reset(raw)
			br.Reset(r)
			if _, err := ReadMessage(br); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkHandleRequest(b *testing.B) {
	base := NewBaseTransport()
	base.RegisterRequestHandler("echo", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return params, nil
	})
	req := &protocol.Request{
		JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
		ID:             1,
		Method:         "echo",
		Params:         json.RawMessage(`{"text":"hello"}`),
	}
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if resp := base.HandleRequest(ctx, req); resp.Error != nil {
			b.Fatal(resp.Error)
		}
	}
}
