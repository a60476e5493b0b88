package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
	"github.com/HyphaGroup/oubliette/internal/metrics"
	"github.com/HyphaGroup/oubliette/internal/protocol"
	"github.com/HyphaGroup/oubliette/internal/validation"
)

// RegisterTool adds tool to srv's registry with handler run as its body.
// A tool registered after a session connects shows up in that session's
// later tools/list results; no notifications/tools/list_changed is sent.
func RegisterTool(srv *Server, tool *mcptypes.Tool, handler ToolRunner) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if _, exists := srv.tools[tool.Name]; !exists {
		srv.toolOrder = append(srv.toolOrder, tool.Name)
	}
	srv.tools[tool.Name] = &registeredTool{tool: tool, handler: handler}
}

// RegisterTypedTool generates an inputSchema from P via reflection and wraps
// fn so callers work with a typed params struct instead of raw JSON.
func RegisterTypedTool[P any](srv *Server, tool *mcptypes.Tool, fn func(ctx context.Context, session *ServerSession, params P) (*mcptypes.CallToolResult, error)) error {
	if tool.InputSchema == nil {
		schema, err := validation.GenerateSchema[P]()
		if err != nil {
			return err
		}
		tool.InputSchema = schema
	}
	RegisterTool(srv, tool, func(ctx context.Context, session *ServerSession, params *mcptypes.CallToolParams) (*mcptypes.CallToolResult, error) {
		var p P
		if len(params.Arguments) > 0 {
			if err := json.Unmarshal(params.Arguments, &p); err != nil {
				return nil, jsonrpc.ErrInvalidParams("malformed tool arguments: " + err.Error())
			}
		}
		return fn(ctx, session, p)
	})
	return nil
}

// runToolHandler invokes run and converts any Go error or panic into a
// tool-level CallToolResult{isError:true} rather than a JSON-RPC error
// response, per the "tool handler throws -> tool-level error" rule: a
// misbehaving tool body must never escalate to a wire error.
func runToolHandler(ctx context.Context, sess *ServerSession, params *mcptypes.CallToolParams, run ToolRunner) (result *mcptypes.CallToolResult) {
	defer func() {
		if r := recover(); r != nil {
			result = mcptypes.ErrorResult(fmt.Sprintf("%v", r))
		}
	}()
	res, err := run(ctx, sess, params)
	if err != nil {
		return mcptypes.ErrorResult(err.Error())
	}
	if res == nil {
		return &mcptypes.CallToolResult{Content: []mcptypes.Content{}}
	}
	return res
}

func (srv *Server) installToolHandlers(sess *ServerSession) {
	p := sess.proto

	_ = p.SetRequestHandler(mcptypes.MethodToolsList, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		srv.mu.RLock()
		defer srv.mu.RUnlock()
		names := append([]string(nil), srv.toolOrder...)
		sort.Strings(names)
		tools := make([]*mcptypes.Tool, 0, len(names))
		for _, n := range names {
			tools = append(tools, srv.tools[n].tool)
		}
		return &mcptypes.ListToolsResult{Tools: tools}, nil
	})

	_ = p.SetRequestHandler(mcptypes.MethodToolsCall, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		var params mcptypes.CallToolParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, jsonrpc.ErrInvalidParams("malformed tools/call params")
		}
		srv.mu.RLock()
		rt, ok := srv.tools[params.Name]
		srv.mu.RUnlock()
		if !ok {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "unknown tool: "+params.Name, nil)
		}

		taskSupport := mcptypes.TaskSupportForbidden
		if rt.tool.Execution != nil && rt.tool.Execution.TaskSupport != "" {
			taskSupport = rt.tool.Execution.TaskSupport
		}

		if params.Task != nil {
			if taskSupport == mcptypes.TaskSupportForbidden {
				return nil, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "tool does not support task augmentation", nil)
			}
			if srv.opts.TaskManager == nil {
				return nil, jsonrpc.ErrInternal("server has no task manager configured")
			}
			task, err := srv.opts.TaskManager.CreateToolTask(ctx, sess, &params, rt.handler)
			if err != nil {
				metrics.RecordToolCall(params.Name, "error")
				return nil, err
			}
			metrics.RecordToolCall(params.Name, "accepted")
			return &mcptypes.CreateTaskResult{Task: task}, nil
		}

		if taskSupport == mcptypes.TaskSupportRequired {
			metrics.RecordToolCall(params.Name, "error")
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "tool requires task augmentation", nil)
		}

		result := runToolHandler(ctx, sess, &params, rt.handler)
		if result.IsError {
			metrics.RecordToolCall(params.Name, "tool_error")
		} else {
			metrics.RecordToolCall(params.Name, "ok")
		}
		return result, nil
	})
}
