package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
	"github.com/HyphaGroup/oubliette/internal/protocol"
)

// Ping issues a liveness check.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.proto.Request(ctx, mcptypes.MethodPing, map[string]any{}, nil)
	return err
}

// ListTools retrieves the full tool catalog, paging via cursor internally.
// It also refreshes the local cache CallTool consults to pre-emptively
// reject calls to task-required tools.
func (c *Client) ListTools(ctx context.Context) ([]*mcptypes.Tool, error) {
	var all []*mcptypes.Tool
	cursor := ""
	for {
		raw, err := c.proto.Request(ctx, mcptypes.MethodToolsList, &mcptypes.ListToolsParams{Cursor: cursor}, nil)
		if err != nil {
			return nil, err
		}
		var page mcptypes.ListToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("mcpclient: malformed tools/list result: %w", err)
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	cache := make(map[string]*mcptypes.Tool, len(all))
	for _, t := range all {
		cache[t.Name] = t
	}
	c.toolsMu.Lock()
	c.tools = cache
	c.toolsMu.Unlock()

	return all, nil
}

// CallToolOptions tunes a single CallTool invocation.
type CallToolOptions struct {
	Progress protocol.ProgressHandler
	Timeout  int64 // milliseconds, 0 uses the protocol default
}

// CallTool invokes a tool synchronously and validates structuredContent
// against the tool's outputSchema when both are present.
func (c *Client) CallTool(ctx context.Context, name string, arguments any, outputSchema json.RawMessage, opts *CallToolOptions) (*mcptypes.CallToolResult, error) {
	c.toolsMu.Lock()
	cached := c.tools[name]
	c.toolsMu.Unlock()
	if cached != nil && cached.Execution != nil && cached.Execution.TaskSupport == mcptypes.TaskSupportRequired {
		return nil, jsonrpc.ErrInvalidRequest(fmt.Sprintf("tool %q requires task augmentation; use CallToolTask", name))
	}

	argsRaw, err := json.Marshal(arguments)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: marshal tool arguments: %w", err)
	}
	reqOpts := &protocol.RequestOptions{}
	if opts != nil {
		reqOpts.Progress = opts.Progress
	}
	raw, err := c.proto.Request(ctx, mcptypes.MethodToolsCall, &mcptypes.CallToolParams{Name: name, Arguments: argsRaw}, reqOpts)
	if err != nil {
		return nil, err
	}
	var result mcptypes.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpclient: malformed tools/call result: %w", err)
	}
	if len(outputSchema) > 0 && len(result.StructuredContent) > 0 {
		if err := c.opts.Validator.Validate(outputSchema, result.StructuredContent); err != nil {
			return nil, fmt.Errorf("mcpclient: structuredContent failed outputSchema validation: %w", err)
		}
	}
	return &result, nil
}

// CallToolTask invokes a task-augmented tool call, returning the created Task
// immediately rather than blocking for a result.
func (c *Client) CallToolTask(ctx context.Context, name string, arguments any, task *mcptypes.TaskParams) (*mcptypes.Task, error) {
	argsRaw, err := json.Marshal(arguments)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: marshal tool arguments: %w", err)
	}
	if task == nil {
		task = &mcptypes.TaskParams{}
	}
	raw, err := c.proto.Request(ctx, mcptypes.MethodToolsCall, &mcptypes.CallToolParams{Name: name, Arguments: argsRaw, Task: task}, nil)
	if err != nil {
		return nil, err
	}
	var result mcptypes.CreateTaskResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpclient: malformed task-augmented tools/call result: %w", err)
	}
	return result.Task, nil
}

// ListResources retrieves the full resource catalog, paging internally.
func (c *Client) ListResources(ctx context.Context) ([]*mcptypes.Resource, error) {
	var all []*mcptypes.Resource
	cursor := ""
	for {
		raw, err := c.proto.Request(ctx, mcptypes.MethodResourcesList, &mcptypes.ListResourcesParams{Cursor: cursor}, nil)
		if err != nil {
			return nil, err
		}
		var page mcptypes.ListResourcesResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("mcpclient: malformed resources/list result: %w", err)
		}
		all = append(all, page.Resources...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// ListResourceTemplates retrieves the server's resource templates.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]*mcptypes.ResourceTemplate, error) {
	raw, err := c.proto.Request(ctx, mcptypes.MethodResourceTemplatesList, map[string]any{}, nil)
	if err != nil {
		return nil, err
	}
	var result mcptypes.ListResourceTemplatesResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpclient: malformed resources/templates/list result: %w", err)
	}
	return result.ResourceTemplates, nil
}

// ReadResource reads a single resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (*mcptypes.ReadResourceResult, error) {
	raw, err := c.proto.Request(ctx, mcptypes.MethodResourcesRead, &mcptypes.ReadResourceParams{URI: uri}, nil)
	if err != nil {
		return nil, err
	}
	var result mcptypes.ReadResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpclient: malformed resources/read result: %w", err)
	}
	return &result, nil
}

// Subscribe registers interest in a resource's update notifications.
func (c *Client) Subscribe(ctx context.Context, uri string) error {
	_, err := c.proto.Request(ctx, mcptypes.MethodResourcesSubscribe, &mcptypes.SubscribeParams{URI: uri}, nil)
	return err
}

// Unsubscribe withdraws interest registered via Subscribe.
func (c *Client) Unsubscribe(ctx context.Context, uri string) error {
	_, err := c.proto.Request(ctx, mcptypes.MethodResourcesUnsubscribe, &mcptypes.UnsubscribeParams{URI: uri}, nil)
	return err
}

// ListPrompts retrieves the server's prompt catalog.
func (c *Client) ListPrompts(ctx context.Context) ([]*mcptypes.Prompt, error) {
	raw, err := c.proto.Request(ctx, mcptypes.MethodPromptsList, map[string]any{}, nil)
	if err != nil {
		return nil, err
	}
	var result mcptypes.ListPromptsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpclient: malformed prompts/list result: %w", err)
	}
	return result.Prompts, nil
}

// GetPrompt renders a named prompt with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*mcptypes.GetPromptResult, error) {
	raw, err := c.proto.Request(ctx, mcptypes.MethodPromptsGet, &mcptypes.GetPromptParams{Name: name, Arguments: arguments}, nil)
	if err != nil {
		return nil, err
	}
	var result mcptypes.GetPromptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpclient: malformed prompts/get result: %w", err)
	}
	return &result, nil
}

// Complete requests argument completions for a prompt or resource template.
func (c *Client) Complete(ctx context.Context, ref mcptypes.CompletionReference, arg mcptypes.CompletionArgument) (*mcptypes.Completion, error) {
	raw, err := c.proto.Request(ctx, mcptypes.MethodCompletionComplete, &mcptypes.CompleteParams{Ref: ref, Argument: arg}, nil)
	if err != nil {
		return nil, err
	}
	var result mcptypes.CompleteResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpclient: malformed completion/complete result: %w", err)
	}
	return &result.Completion, nil
}

// SetLogLevel requests the server emit notifications/message at level or
// above, delivered to Options.OnLogMessage.
func (c *Client) SetLogLevel(ctx context.Context, level mcptypes.LoggingLevel) error {
	_, err := c.proto.Request(ctx, mcptypes.MethodLoggingSetLevel, &mcptypes.SetLevelParams{Level: level}, nil)
	return err
}
