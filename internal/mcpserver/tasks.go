package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
	"github.com/HyphaGroup/oubliette/internal/protocol"
)

// installTaskHandlers wires tasks/get, tasks/list, tasks/result, tasks/cancel
// to srv.opts.TaskManager. Requests arrive even when no TaskManager is
// configured; they are answered with MethodNotFound-equivalent errors rather
// than silently accepted, since a peer that saw "tasks" advertised should
// get a clear failure rather than a hang.
func (srv *Server) installTaskHandlers(sess *ServerSession) {
	p := sess.proto

	_ = p.SetRequestHandler(mcptypes.MethodTasksGet, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		tm, err := srv.requireTaskManager()
		if err != nil {
			return nil, err
		}
		var params mcptypes.GetTaskParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, jsonrpc.ErrInvalidParams("malformed tasks/get params")
		}
		task, err := tm.GetTask(sess, params.TaskID)
		if err != nil {
			return nil, err
		}
		result := mcptypes.GetTaskResult(*task)
		return &result, nil
	})

	_ = p.SetRequestHandler(mcptypes.MethodTasksList, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		tm, err := srv.requireTaskManager()
		if err != nil {
			return nil, err
		}
		var params mcptypes.ListTasksParams
		_ = json.Unmarshal(raw, &params)
		tasks, next, err := tm.ListTasks(sess, params.Cursor, srv.opts.PageSize)
		if err != nil {
			return nil, err
		}
		return &mcptypes.ListTasksResult{Tasks: tasks, NextCursor: next}, nil
	})

	_ = p.SetRequestHandler(mcptypes.MethodTasksResult, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		tm, err := srv.requireTaskManager()
		if err != nil {
			return nil, err
		}
		var params mcptypes.TaskResultParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, jsonrpc.ErrInvalidParams("malformed tasks/result params")
		}
		return tm.TaskResult(ctx, sess, params.TaskID)
	})

	_ = p.SetRequestHandler(mcptypes.MethodTasksCancel, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		tm, err := srv.requireTaskManager()
		if err != nil {
			return nil, err
		}
		var params mcptypes.CancelTaskParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, jsonrpc.ErrInvalidParams("malformed tasks/cancel params")
		}
		task, err := tm.CancelTask(sess, params.TaskID)
		if err != nil {
			return nil, err
		}
		result := mcptypes.CancelTaskResult(*task)
		return &result, nil
	})
}

func (srv *Server) requireTaskManager() (TaskManager, error) {
	if srv.opts.TaskManager == nil {
		return nil, jsonrpc.ErrMethodNotFound("tasks are not supported by this server")
	}
	return srv.opts.TaskManager, nil
}
