// mcp-client is a minimal demonstration client for the Streamable HTTP
// Transport broker: connect, list tools, call one (optionally task-augmented
// and streamed), as a smoke-test companion to cmd/mcp-server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/HyphaGroup/oubliette/internal/mcpclient"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
	"github.com/HyphaGroup/oubliette/internal/transport/streamable"
)

func main() {
	url := flag.String("url", "http://localhost:8080/mcp", "Broker URL")
	token := flag.String("token", os.Getenv("MCP_BROKER_TOKEN"), "Bearer token")
	listTools := flag.Bool("list-tools", false, "List tools and exit")
	toolName := flag.String("tool", "", "Tool name to invoke")
	args := flag.String("args", "{}", "Tool arguments as JSON")
	asTask := flag.Bool("task", false, "Invoke the tool as a task and stream status")
	timeout := flag.Duration("timeout", 30*time.Second, "Per-call timeout")
	flag.Parse()

	ctx := context.Background()

	transportOpts := streamable.ClientTransportOptions{MaxRetries: 3}
	if *token != "" {
		transportOpts.HTTPClient = bearerClient(*token)
	}
	t := streamable.NewStreamableClientTransport(*url, transportOpts)

	client := mcpclient.New(mcpclient.Options{
		Implementation: mcptypes.Implementation{Name: "mcp-client", Version: "dev"},
	})

	connectCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	if err := client.Connect(connectCtx, t); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}

	if *listTools || *toolName == "" {
		tools, err := client.ListTools(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "listTools: %v\n", err)
			os.Exit(1)
		}
		for _, tool := range tools {
			fmt.Printf("%s\t%s\n", tool.Name, tool.Description)
		}
		return
	}

	var arguments map[string]any
	if err := json.Unmarshal([]byte(*args), &arguments); err != nil {
		fmt.Fprintf(os.Stderr, "invalid --args JSON: %v\n", err)
		os.Exit(1)
	}

	callCtx, callCancel := context.WithTimeout(ctx, *timeout)
	defer callCancel()

	if !*asTask {
		result, err := client.CallTool(callCtx, *toolName, arguments, nil, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "callTool: %v\n", err)
			os.Exit(1)
		}
		printResult(result)
		return
	}

	stream, err := client.CallToolStream(callCtx, *toolName, arguments, &mcptypes.TaskParams{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "callToolStream: %v\n", err)
		os.Exit(1)
	}
	for msg := range stream {
		switch msg.Kind {
		case mcpclient.StreamTaskCreated:
			fmt.Printf("task created: %s\n", msg.Task.TaskID)
		case mcpclient.StreamTaskStatus:
			fmt.Printf("task status: %s\n", msg.Task.Status)
		case mcpclient.StreamTaskResult:
			printResult(msg.Result)
		case mcpclient.StreamTaskError:
			fmt.Fprintf(os.Stderr, "task error: %v\n", msg.Err)
			os.Exit(1)
		}
	}
}

func printResult(result *mcptypes.CallToolResult) {
	for _, c := range result.Content {
		if c.Type == "text" {
			fmt.Println(c.Text)
		}
	}
	if result.IsError {
		os.Exit(1)
	}
}

func bearerClient(token string) *http.Client {
	return &http.Client{
		Transport: &bearerRoundTripper{token: token, inner: http.DefaultTransport},
	}
}

type bearerRoundTripper struct {
	token string
	inner http.RoundTripper
}

func (rt *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+rt.token)
	return rt.inner.RoundTrip(req)
}
