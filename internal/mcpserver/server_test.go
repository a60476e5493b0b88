package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
	"github.com/HyphaGroup/oubliette/internal/protocol"
	"github.com/HyphaGroup/oubliette/internal/transport"
)

type echoParams struct {
	Text string `json:"text"`
}

func newTestServer(t *testing.T) (*Server, *protocol.Protocol) {
	t.Helper()
	srv := NewServer(Options{Implementation: mcptypes.Implementation{Name: "test-server", Version: "0.0.1"}})

	err := RegisterTypedTool(srv, &mcptypes.Tool{Name: "echo", Description: "echoes text back"},
		func(ctx context.Context, session *ServerSession, params echoParams) (*mcptypes.CallToolResult, error) {
			return &mcptypes.CallToolResult{Content: []mcptypes.Content{mcptypes.TextContent(params.Text)}}, nil
		})
	if err != nil {
		t.Fatalf("RegisterTypedTool: %v", err)
	}

	RegisterTool(srv, &mcptypes.Tool{Name: "boom", Description: "always fails"},
		func(ctx context.Context, session *ServerSession, params *mcptypes.CallToolParams) (*mcptypes.CallToolResult, error) {
			return nil, errors.New("kaboom")
		})

	RegisterResource(srv, &mcptypes.Resource{URI: "file:///greeting.txt", Name: "greeting"},
		func(ctx context.Context, uri string) (*mcptypes.ReadResourceResult, error) {
			return &mcptypes.ReadResourceResult{Contents: []mcptypes.EmbeddedResource{{URI: uri, MimeType: "text/plain", Text: "hello"}}}, nil
		})

	RegisterPrompt(srv, &mcptypes.Prompt{Name: "greet", Arguments: []mcptypes.PromptArgument{{Name: "name", Required: true}}},
		func(ctx context.Context, args map[string]string) (*mcptypes.GetPromptResult, error) {
			return &mcptypes.GetPromptResult{Messages: []mcptypes.PromptMessage{
				{Role: "user", Content: mcptypes.TextContent("hello " + args["name"])},
			}}, nil
		})

	a, b := transport.InMemoryPair()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var clientSide *protocol.Protocol
	done := make(chan struct{})
	var srvErr error
	go func() {
		_, srvErr = srv.Connect(ctx, b)
		close(done)
	}()

	clientSide = protocol.New(protocol.Options{})
	if err := clientSide.Connect(ctx, a); err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	clientSide.SetInitialized()

	raw, err := clientSide.Request(ctx, mcptypes.MethodInitialize, &mcptypes.InitializeParams{
		ProtocolVersion: mcptypes.LatestProtocolVersion,
		ClientInfo:      mcptypes.Implementation{Name: "test-client", Version: "0.0.1"},
	}, nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	var initResult mcptypes.InitializeResult
	if err := json.Unmarshal(raw, &initResult); err != nil {
		t.Fatalf("unmarshal initialize result: %v", err)
	}
	if !initResult.Capabilities.HasTools() {
		t.Error("expected tools capability advertised")
	}
	if err := clientSide.Notify(ctx, mcptypes.NotificationInitialized, nil); err != nil {
		t.Fatalf("notify initialized: %v", err)
	}

	<-done
	if srvErr != nil {
		t.Fatalf("server Connect: %v", srvErr)
	}

	return srv, clientSide
}

func TestToolsListAndCall(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	raw, err := client.Request(ctx, mcptypes.MethodToolsList, &mcptypes.ListToolsParams{}, nil)
	if err != nil {
		t.Fatalf("tools/list: %v", err)
	}
	var listResult mcptypes.ListToolsResult
	if err := json.Unmarshal(raw, &listResult); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(listResult.Tools) != 2 || listResult.Tools[1].Name != "echo" {
		t.Fatalf("unexpected tools: %+v", listResult.Tools)
	}
	if listResult.Tools[1].InputSchema == nil {
		t.Error("expected auto-generated input schema")
	}

	args, _ := json.Marshal(echoParams{Text: "hi there"})
	raw, err = client.Request(ctx, mcptypes.MethodToolsCall, &mcptypes.CallToolParams{Name: "echo", Arguments: args}, nil)
	if err != nil {
		t.Fatalf("tools/call: %v", err)
	}
	var callResult mcptypes.CallToolResult
	if err := json.Unmarshal(raw, &callResult); err != nil {
		t.Fatalf("unmarshal call result: %v", err)
	}
	if len(callResult.Content) != 1 || callResult.Content[0].Text != "hi there" {
		t.Fatalf("unexpected call result: %+v", callResult)
	}
}

func TestToolsCallUnknownTool(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()
	_, err := client.Request(ctx, mcptypes.MethodToolsCall, &mcptypes.CallToolParams{Name: "nope"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	rpcErr, ok := err.(*jsonrpc.Error)
	if !ok || rpcErr.Code != jsonrpc.CodeInvalidParams {
		t.Fatalf("expected InvalidParams error, got %v", err)
	}
}

// A tool handler's error must surface inside CallToolResult.isError, never
// as a JSON-RPC error response (spec S3).
func TestToolsCallHandlerErrorIsToolLevel(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	raw, err := client.Request(ctx, mcptypes.MethodToolsCall, &mcptypes.CallToolParams{Name: "boom"}, nil)
	if err != nil {
		t.Fatalf("tools/call should not return a wire error, got: %v", err)
	}
	var callResult mcptypes.CallToolResult
	if err := json.Unmarshal(raw, &callResult); err != nil {
		t.Fatalf("unmarshal call result: %v", err)
	}
	if !callResult.IsError {
		t.Fatal("expected isError:true")
	}
	if len(callResult.Content) != 1 || callResult.Content[0].Text != "kaboom" {
		t.Fatalf("unexpected error content: %+v", callResult.Content)
	}
}

func TestResourcesReadAndPromptsGet(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	raw, err := client.Request(ctx, mcptypes.MethodResourcesRead, &mcptypes.ReadResourceParams{URI: "file:///greeting.txt"}, nil)
	if err != nil {
		t.Fatalf("resources/read: %v", err)
	}
	var readResult mcptypes.ReadResourceResult
	if err := json.Unmarshal(raw, &readResult); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(readResult.Contents) != 1 || readResult.Contents[0].Text != "hello" {
		t.Fatalf("unexpected resource contents: %+v", readResult.Contents)
	}

	raw, err = client.Request(ctx, mcptypes.MethodPromptsGet, &mcptypes.GetPromptParams{Name: "greet", Arguments: map[string]string{"name": "ada"}}, nil)
	if err != nil {
		t.Fatalf("prompts/get: %v", err)
	}
	var promptResult mcptypes.GetPromptResult
	if err := json.Unmarshal(raw, &promptResult); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(promptResult.Messages) != 1 || promptResult.Messages[0].Content.Text != "hello ada" {
		t.Fatalf("unexpected prompt messages: %+v", promptResult.Messages)
	}

	_, err = client.Request(ctx, mcptypes.MethodPromptsGet, &mcptypes.GetPromptParams{Name: "greet"}, nil)
	if err == nil {
		t.Fatal("expected error for missing required argument")
	}
}
