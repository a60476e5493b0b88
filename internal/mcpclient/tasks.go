package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HyphaGroup/oubliette/internal/mcptypes"
)

// GetTask retrieves current task state.
func (c *Client) GetTask(ctx context.Context, taskID string) (*mcptypes.Task, error) {
	raw, err := c.proto.Request(ctx, mcptypes.MethodTasksGet, &mcptypes.GetTaskParams{TaskID: taskID}, nil)
	if err != nil {
		return nil, err
	}
	var result mcptypes.GetTaskResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpclient: malformed tasks/get result: %w", err)
	}
	task := mcptypes.Task(result)
	return &task, nil
}

// ListTasks retrieves the server's known tasks for this session.
func (c *Client) ListTasks(ctx context.Context) ([]*mcptypes.Task, error) {
	var all []*mcptypes.Task
	cursor := ""
	for {
		raw, err := c.proto.Request(ctx, mcptypes.MethodTasksList, &mcptypes.ListTasksParams{Cursor: cursor}, nil)
		if err != nil {
			return nil, err
		}
		var page mcptypes.ListTasksResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("mcpclient: malformed tasks/list result: %w", err)
		}
		all = append(all, page.Tasks...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// CancelTask requests cancellation of a still-running task.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*mcptypes.Task, error) {
	raw, err := c.proto.Request(ctx, mcptypes.MethodTasksCancel, &mcptypes.CancelTaskParams{TaskID: taskID}, nil)
	if err != nil {
		return nil, err
	}
	var result mcptypes.CancelTaskResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpclient: malformed tasks/cancel result: %w", err)
	}
	task := mcptypes.Task(result)
	return &task, nil
}

// TaskResult retrieves the terminal CallToolResult for a task. If the task
// has not reached a terminal status yet, the server holds the tasks/result
// request open until it does.
func (c *Client) TaskResult(ctx context.Context, taskID string) (*mcptypes.CallToolResult, error) {
	raw, err := c.proto.Request(ctx, mcptypes.MethodTasksResult, &mcptypes.TaskResultParams{TaskID: taskID}, nil)
	if err != nil {
		return nil, err
	}
	var result mcptypes.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpclient: malformed tasks/result result: %w", err)
	}
	return &result, nil
}

// PollTask polls GetTask at the task's declared PollInterval (or
// mcptypes.DefaultTaskPollIntervalMillis) until it reaches a terminal state,
// then fetches and returns its result: a client-side helper built atop
// tasks/get + tasks/result, used when a caller doesn't want to drive the
// poll loop itself.
func (c *Client) PollTask(ctx context.Context, taskID string) (*mcptypes.CallToolResult, error) {
	interval := time.Duration(mcptypes.DefaultTaskPollIntervalMillis) * time.Millisecond

	task, err := c.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.PollInterval != nil {
		interval = time.Duration(*task.PollInterval) * time.Millisecond
	}

	for !task.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		task, err = c.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
	}

	if task.Status == mcptypes.TaskStatusCancelled {
		return nil, fmt.Errorf("mcpclient: task %s was cancelled", taskID)
	}
	return c.TaskResult(ctx, taskID)
}
