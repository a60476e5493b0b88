package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/HyphaGroup/oubliette/internal/mcpclient"
	"github.com/HyphaGroup/oubliette/internal/mcpserver"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
	"github.com/HyphaGroup/oubliette/internal/transport"
)

type sleepParams struct {
	Millis int `json:"millis"`
}

func newConnectedPair(t *testing.T, mgr *Manager) (*mcpserver.Server, *mcpclient.Client) {
	t.Helper()
	srv := mcpserver.NewServer(mcpserver.Options{
		Implementation: mcptypes.Implementation{Name: "srv", Version: "1.0"},
		TaskManager:    mgr,
	})
	srv.EnableTasks(true, true)

	err := mcpserver.RegisterTypedTool(srv, &mcptypes.Tool{
		Name:      "sleep",
		Execution: &mcptypes.ToolExecution{TaskSupport: mcptypes.TaskSupportOptional},
	}, func(ctx context.Context, session *mcpserver.ServerSession, p sleepParams) (*mcptypes.CallToolResult, error) {
		select {
		case <-time.After(time.Duration(p.Millis) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &mcptypes.CallToolResult{Content: []mcptypes.Content{mcptypes.TextContent("done")}}, nil
	})
	if err != nil {
		t.Fatalf("RegisterTypedTool returned error: %v", err)
	}
	_ = err

	a, b := transport.InMemoryPair()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	client := mcpclient.New(mcpclient.Options{Implementation: mcptypes.Implementation{Name: "cli", Version: "1.0"}})
	srvDone := make(chan error, 1)
	go func() {
		_, err := srv.Connect(ctx, b)
		srvDone <- err
	}()
	if err := client.Connect(ctx, a); err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	return srv, client
}

func TestTaskLifecycleCompletes(t *testing.T) {
	mgr := NewManager(0)
	t.Cleanup(mgr.Stop)
	_, client := newConnectedPair(t, mgr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ttl := int64(60_000)
	task, err := client.CallToolTask(ctx, "sleep", sleepParams{Millis: 10}, &mcptypes.TaskParams{TTL: &ttl})
	if err != nil {
		t.Fatalf("CallToolTask: %v", err)
	}
	if task.Status != mcptypes.TaskStatusWorking {
		t.Fatalf("expected initial status working, got %q", task.Status)
	}

	result, err := client.PollTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("PollTask: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "done" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Meta["relatedTask"] == nil {
		t.Fatalf("expected relatedTask meta on terminal result")
	}
}

func TestTaskCancel(t *testing.T) {
	mgr := NewManager(0)
	t.Cleanup(mgr.Stop)
	_, client := newConnectedPair(t, mgr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	task, err := client.CallToolTask(ctx, "sleep", sleepParams{Millis: 60_000}, &mcptypes.TaskParams{})
	if err != nil {
		t.Fatalf("CallToolTask: %v", err)
	}

	cancelled, err := client.CancelTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if cancelled.Status != mcptypes.TaskStatusCancelled {
		t.Fatalf("expected cancelled status, got %q", cancelled.Status)
	}

	if _, err := client.CancelTask(ctx, task.TaskID); err == nil {
		t.Fatalf("expected cancelling an already-terminal task to fail")
	}
}

func TestTaskListPagination(t *testing.T) {
	mgr := NewManager(0)
	t.Cleanup(mgr.Stop)
	_, client := newConnectedPair(t, mgr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		if _, err := client.CallToolTask(ctx, "sleep", sleepParams{Millis: 50}, &mcptypes.TaskParams{}); err != nil {
			t.Fatalf("CallToolTask %d: %v", i, err)
		}
	}

	all, err := client.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
}
