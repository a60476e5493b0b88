package mcptypes

import "encoding/json"

// Tool describes one callable tool exposed by a server. Identified by Name,
// unique within a server.
type Tool struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	Annotations  *ToolAnnotations `json:"annotations,omitempty"`
	Icon         *Icon           `json:"icon,omitempty"`
	Execution    *ToolExecution  `json:"execution,omitempty"`
	Meta         Meta            `json:"_meta,omitempty"`
}

// ToolAnnotations are untrusted hints about tool behavior (read-only,
// destructive, idempotent, open-world), never used for access control.
type ToolAnnotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    bool   `json:"readOnlyHint,omitempty"`
	DestructiveHint bool   `json:"destructiveHint,omitempty"`
	IdempotentHint  bool   `json:"idempotentHint,omitempty"`
	OpenWorldHint   bool   `json:"openWorldHint,omitempty"`
}

// ToolExecution declares whether a tool supports task-augmented execution.
// TaskSupport is one of "forbidden" (default), "optional", "required".
type ToolExecution struct {
	TaskSupport string `json:"taskSupport,omitempty"`
}

const (
	TaskSupportForbidden = "forbidden"
	TaskSupportOptional  = "optional"
	TaskSupportRequired  = "required"
)

// ListToolsParams/Result implement tools/list.
type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type ListToolsResult struct {
	Tools      []*Tool `json:"tools"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

// CallToolParams carries the raw arguments for tools/call, plus optional
// task augmentation.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Task      *TaskParams     `json:"task,omitempty"`
	Meta      Meta            `json:"_meta,omitempty"`
}

// TaskParams is the task-augmentation request attached to tools/call.
type TaskParams struct {
	TTL          *int64 `json:"ttl,omitempty"`          // milliseconds
	PollInterval *int64 `json:"pollInterval,omitempty"` // milliseconds
}

// CreateTaskResult is returned immediately in place of a CallToolResult when
// a tool call is task-augmented.
type CreateTaskResult struct {
	Task *Task `json:"task"`
}
