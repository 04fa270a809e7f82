package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler func(method string, params []json.RawMessage) (any, *struct {
	Code    int
	Message string
})) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     int               `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = map[string]any{"code": rpcErr.Code, "message": rpcErr.Message}
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func testClient(url string) *RPCClient {
	return NewRPCClient(url, WithMaxRetries(0), WithHTTPClient(&http.Client{Timeout: 2 * time.Second}))
}

func TestRPCClientTipHeight(t *testing.T) {
	srv := newTestServer(t, func(method string, params []json.RawMessage) (any, *struct {
		Code    int
		Message string
	}) {
		if method != "getblockcount" {
			t.Fatalf("unexpected method %q", method)
		}
		return "42", nil
	})
	defer srv.Close()

	got, err := testClient(srv.URL).TipHeight(context.Background())
	if err != nil || got != 42 {
		t.Fatalf("TipHeight = %d, %v, want 42, nil", got, err)
	}
}

func TestRPCClientBlockHash(t *testing.T) {
	srv := newTestServer(t, func(method string, params []json.RawMessage) (any, *struct {
		Code    int
		Message string
	}) {
		return "0xaabb", nil
	})
	defer srv.Close()

	got, err := testClient(srv.URL).BlockHash(context.Background(), 7)
	if err != nil {
		t.Fatalf("BlockHash: %v", err)
	}
	if len(got) != 2 || got[0] != 0xaa || got[1] != 0xbb {
		t.Fatalf("got %x, want aabb", got)
	}
}

func TestRPCClientBlockHashNotFound(t *testing.T) {
	srv := newTestServer(t, func(method string, params []json.RawMessage) (any, *struct {
		Code    int
		Message string
	}) {
		return "", nil
	})
	defer srv.Close()

	_, err := testClient(srv.URL).BlockHash(context.Background(), 7)
	if err == nil {
		t.Fatal("expected error for empty hash")
	}
}

func TestRPCClientProtocolError(t *testing.T) {
	srv := newTestServer(t, func(method string, params []json.RawMessage) (any, *struct {
		Code    int
		Message string
	}) {
		return nil, &struct {
			Code    int
			Message string
		}{Code: -32601, Message: "method not found"}
	})
	defer srv.Close()

	_, err := testClient(srv.URL).TipHeight(context.Background())
	if err == nil {
		t.Fatal("expected protocol error")
	}
}

func TestRPCClientCallView(t *testing.T) {
	srv := newTestServer(t, func(method string, params []json.RawMessage) (any, *struct {
		Code    int
		Message string
	}) {
		if method != "metashrew_view" {
			t.Fatalf("unexpected method %q", method)
		}
		return "0x01020304", nil
	})
	defer srv.Close()

	got, err := testClient(srv.URL).CallView(context.Background(), "balance", []byte("abc"), nil)
	if err != nil {
		t.Fatalf("CallView: %v", err)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04}
	if len(got) != len(want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestRPCClientIdentifier(t *testing.T) {
	c := NewRPCClient("http://example.invalid:1234")
	if c.Identifier() != "http://example.invalid:1234" {
		t.Fatalf("Identifier() = %q", c.Identifier())
	}
}
