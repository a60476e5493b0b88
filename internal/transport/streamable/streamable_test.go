package streamable

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HyphaGroup/oubliette/internal/mcpclient"
	"github.com/HyphaGroup/oubliette/internal/mcpserver"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
)

type echoParams struct {
	Text string `json:"text"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := mcpserver.NewServer(mcpserver.Options{Implementation: mcptypes.Implementation{Name: "srv", Version: "1.0"}})
	err := mcpserver.RegisterTypedTool(srv, &mcptypes.Tool{Name: "echo"},
		func(ctx context.Context, session *mcpserver.ServerSession, params echoParams) (*mcptypes.CallToolResult, error) {
			return &mcptypes.CallToolResult{Content: []mcptypes.Content{mcptypes.TextContent(params.Text)}}, nil
		})
	if err != nil {
		t.Fatalf("RegisterTypedTool: %v", err)
	}
	h := NewHandler(srv, HandlerOptions{})
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

func newConnectedClient(t *testing.T, url string) *mcpclient.Client {
	t.Helper()
	ct := NewStreamableClientTransport(url, ClientTransportOptions{MaxRetries: 2})
	client := mcpclient.New(mcpclient.Options{Implementation: mcptypes.Implementation{Name: "cli", Version: "1.0"}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx, ct); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = ct.Close() })
	return client
}

func TestStreamableHandshakeAndToolCall(t *testing.T) {
	ts := newTestServer(t)
	client := newConnectedClient(t, ts.URL)

	if !client.PeerCapabilities().HasTools() {
		t.Fatalf("expected server to advertise tools capability")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("unexpected tools: %+v", tools)
	}

	result, err := client.CallTool(ctx, "echo", echoParams{Text: "hello"}, nil, nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hello" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestStreamableMultipleSequentialCalls(t *testing.T) {
	ts := newTestServer(t)
	client := newConnectedClient(t, ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		if _, err := client.CallTool(ctx, "echo", echoParams{Text: "ping"}, nil, nil); err != nil {
			t.Fatalf("CallTool iteration %d: %v", i, err)
		}
	}
}

func TestEventIDRoundTrip(t *testing.T) {
	id := formatEventID(3, 42)
	sid, idx, ok := parseEventID(id)
	if !ok || sid != 3 || idx != 42 {
		t.Fatalf("parseEventID(%q) = %d, %d, %v", id, sid, idx, ok)
	}
	if _, _, ok := parseEventID("not-an-id"); ok {
		t.Fatalf("expected parse failure for malformed event id")
	}
}

func TestOptionsAlwaysGetsCORSHeaders(t *testing.T) {
	srv := mcpserver.NewServer(mcpserver.Options{Implementation: mcptypes.Implementation{Name: "srv", Version: "1.0"}})
	h := NewHandler(srv, HandlerOptions{})
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/mcp", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "GET, POST, DELETE, OPTIONS" {
		t.Fatalf("unexpected Allow-Methods: %q", got)
	}
	if got := resp.Header.Get("Access-Control-Expose-Headers"); got != sessionHeader {
		t.Fatalf("unexpected Expose-Headers: %q", got)
	}
}

func TestOriginRejectedWhenDNSRebindingProtectionEnabled(t *testing.T) {
	srv := mcpserver.NewServer(mcpserver.Options{Implementation: mcptypes.Implementation{Name: "srv", Version: "1.0"}})
	h := NewHandler(srv, HandlerOptions{AllowedHosts: []string{"127.0.0.1"}})
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	cases := []struct {
		name       string
		origin     string
		wantStatus int
	}{
		{"null origin rejected", "null", http.StatusForbidden},
		{"mismatched origin rejected", "http://evil.example", http.StatusForbidden},
		{"matching host origin allowed", "http://127.0.0.1", http.StatusBadRequest},
		{"no origin header allowed", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
			if err != nil {
				t.Fatalf("NewRequest: %v", err)
			}
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, resp.StatusCode)
			}
		})
	}
}

func TestMemoryEventStoreAppendReplay(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, "sess", 0, []byte{byte(i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	events, err := store.Replay(ctx, "sess", 0, 1)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events from index 1, got %d", len(events))
	}
	if err := store.DropSession(ctx, "sess"); err != nil {
		t.Fatalf("DropSession: %v", err)
	}
	events, err = store.Replay(ctx, "sess", 0, 0)
	if err != nil {
		t.Fatalf("Replay after drop: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events after drop, got %d", len(events))
	}
}
