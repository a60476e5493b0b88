package mcpclient

import (
	"context"
	"testing"
	"time"

	"github.com/HyphaGroup/oubliette/internal/mcpserver"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
	"github.com/HyphaGroup/oubliette/internal/transport"
)

type greetParams struct {
	Name string `json:"name"`
}

func newConnectedPair(t *testing.T) (*mcpserver.Server, *Client) {
	t.Helper()
	srv := mcpserver.NewServer(mcpserver.Options{Implementation: mcptypes.Implementation{Name: "srv", Version: "1.0"}})
	err := mcpserver.RegisterTypedTool(srv, &mcptypes.Tool{Name: "greet"},
		func(ctx context.Context, session *mcpserver.ServerSession, params greetParams) (*mcptypes.CallToolResult, error) {
			return &mcptypes.CallToolResult{Content: []mcptypes.Content{mcptypes.TextContent("hi " + params.Name)}}, nil
		})
	if err != nil {
		t.Fatalf("RegisterTypedTool: %v", err)
	}

	a, b := transport.InMemoryPair()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	client := New(Options{Implementation: mcptypes.Implementation{Name: "cli", Version: "1.0"}})

	srvDone := make(chan error, 1)
	go func() {
		_, err := srv.Connect(ctx, b)
		srvDone <- err
	}()

	if err := client.Connect(ctx, a); err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	if err := <-srvDone; err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	return srv, client
}

func TestClientHandshakeAndToolCall(t *testing.T) {
	_, client := newConnectedPair(t)
	ctx := context.Background()

	if !client.PeerCapabilities().HasTools() {
		t.Fatal("expected tools capability from server")
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "greet" {
		t.Fatalf("unexpected tools: %+v", tools)
	}

	result, err := client.CallTool(ctx, "greet", greetParams{Name: "ada"}, nil, nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hi ada" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestClientRejectsUnadvertisedCapability(t *testing.T) {
	_, client := newConnectedPair(t)
	ctx := context.Background()

	_, err := client.GetTask(ctx, "nonexistent")
	if err == nil {
		t.Fatal("expected capability-gate rejection for tasks")
	}
}

func TestPing(t *testing.T) {
	_, client := newConnectedPair(t)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
