package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HyphaGroup/oubliette/internal/mcptypes"
)

// StreamKind discriminates the messages CallToolStream emits.
type StreamKind string

const (
	StreamTaskCreated StreamKind = "task_created"
	StreamTaskStatus  StreamKind = "task_status"
	StreamTaskResult  StreamKind = "task_result"
	StreamTaskError   StreamKind = "task_error"
)

// StreamMessage is one event in a CallToolStream sequence. Exactly one of
// Task, Result, Err is meaningful, selected by Kind.
type StreamMessage struct {
	Kind   StreamKind
	Task   *mcptypes.Task
	Result *mcptypes.CallToolResult
	Err    error
}

// CallToolStream invokes name and returns a channel of StreamMessage.
// If the server answers the
// initial tools/call directly with a CallToolResult (task==nil, or the
// server doesn't honor task augmentation), the channel carries exactly one
// StreamTaskResult message. Otherwise it carries one StreamTaskCreated,
// then interleaved StreamTaskStatus updates (from polling at the task's
// declared pollInterval, default mcptypes.DefaultTaskPollIntervalMillis)
// racing a tasks/result call; whichever completes first ends the stream
// with a StreamTaskResult or StreamTaskError. The channel is closed after
// its final message.
func (c *Client) CallToolStream(ctx context.Context, name string, arguments any, task *mcptypes.TaskParams) (<-chan StreamMessage, error) {
	argsRaw, err := json.Marshal(arguments)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: marshal tool arguments: %w", err)
	}

	raw, err := c.proto.Request(ctx, mcptypes.MethodToolsCall, &mcptypes.CallToolParams{Name: name, Arguments: argsRaw, Task: task}, nil)
	if err != nil {
		return nil, err
	}

	var probe struct {
		Task *mcptypes.Task `json:"task"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("mcpclient: malformed tools/call result: %w", err)
	}

	ch := make(chan StreamMessage, 1)
	if probe.Task == nil {
		var result mcptypes.CallToolResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("mcpclient: malformed tools/call result: %w", err)
		}
		ch <- StreamMessage{Kind: StreamTaskResult, Result: &result}
		close(ch)
		return ch, nil
	}

	go c.driveTaskStream(ctx, probe.Task, ch)
	return ch, nil
}

// driveTaskStream implements the race described on CallToolStream: a
// polling loop publishing status changes, concurrent with a blocking
// tasks/result call whose completion ends the stream first.
func (c *Client) driveTaskStream(ctx context.Context, initial *mcptypes.Task, ch chan<- StreamMessage) {
	defer close(ch)

	ch <- StreamMessage{Kind: StreamTaskCreated, Task: initial}

	interval := time.Duration(mcptypes.DefaultTaskPollIntervalMillis) * time.Millisecond
	if initial.PollInterval != nil {
		interval = time.Duration(*initial.PollInterval) * time.Millisecond
	}

	type outcome struct {
		result *mcptypes.CallToolResult
		err    error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		result, err := c.TaskResult(ctx, initial.TaskID)
		resultCh <- outcome{result, err}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := initial.Status

	for {
		select {
		case o := <-resultCh:
			if o.err != nil {
				ch <- StreamMessage{Kind: StreamTaskError, Err: o.err}
			} else {
				ch <- StreamMessage{Kind: StreamTaskResult, Result: o.result}
			}
			return
		case <-ticker.C:
			t, err := c.GetTask(ctx, initial.TaskID)
			if err != nil {
				continue // tasks/result above still owns terminal/error reporting
			}
			if t.Status != last {
				last = t.Status
				ch <- StreamMessage{Kind: StreamTaskStatus, Task: t}
			}
		case <-ctx.Done():
			ch <- StreamMessage{Kind: StreamTaskError, Err: ctx.Err()}
			return
		}
	}
}
