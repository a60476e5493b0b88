package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
	"github.com/HyphaGroup/oubliette/internal/logger"
	"github.com/HyphaGroup/oubliette/internal/mcpserver"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
	"github.com/HyphaGroup/oubliette/internal/metrics"
	"github.com/robfig/cron/v3"
)

// Manager implements mcpserver.TaskManager: it runs tool bodies in a
// goroutine per task, tracks their lifecycle in a Store, and reaps expired
// entries on a cron schedule.
type Manager struct {
	store *Store
	cron  *cron.Cron
}

var _ mcpserver.TaskManager = (*Manager)(nil)

// NewManager starts a Manager whose reaper runs every reapInterval. Pass
// zero to disable periodic reaping (expired entries are still skipped on
// read, just not proactively evicted).
func NewManager(reapInterval time.Duration) *Manager {
	m := &Manager{store: newStore()}
	if reapInterval > 0 {
		c := cron.New()
		spec := fmt.Sprintf("@every %s", reapInterval)
		_, err := c.AddFunc(spec, func() { m.store.reapExpired(time.Now()) })
		if err == nil {
			c.Start()
			m.cron = c
		} else {
			logger.Error("tasks: failed to schedule reaper: %v", err)
		}
	}
	return m
}

// Stop halts the reaper, if one is running.
func (m *Manager) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
}

// CreateToolTask registers a new task, runs the tool body asynchronously via
// run, and returns the task's initial (working) state immediately.
func (m *Manager) CreateToolTask(ctx context.Context, session *mcpserver.ServerSession, params *mcptypes.CallToolParams, run mcpserver.ToolRunner) (*mcptypes.Task, error) {
	if session == nil {
		return nil, jsonrpc.ErrInvalidRequest("missing session")
	}

	now := time.Now().UTC()
	createdAt := now.Format(time.RFC3339)

	var ttl *int64
	var expiresAt *time.Time
	if params.Task != nil && params.Task.TTL != nil {
		v := *params.Task.TTL
		ttl = &v
		exp := now.Add(time.Duration(v) * time.Millisecond)
		expiresAt = &exp
	}

	var pollInterval *int64
	if params.Task != nil && params.Task.PollInterval != nil {
		v := *params.Task.PollInterval
		pollInterval = &v
	}

	taskID, err := newTaskID()
	if err != nil {
		return nil, jsonrpc.ErrInternal("generating task id: " + err.Error())
	}

	e := &entry{
		task: mcptypes.Task{
			TaskID:        taskID,
			Status:        mcptypes.TaskStatusWorking,
			StatusMessage: "The operation is now in progress.",
			CreatedAt:     createdAt,
			LastUpdatedAt: createdAt,
			TTL:           ttl,
			PollInterval:  pollInterval,
		},
		createdAt: now,
		session:   session,
		expiresAt: expiresAt,
		done:      make(chan struct{}),
	}

	m.store.mu.Lock()
	m.store.next++
	e.seq = m.store.next
	m.store.tasks[taskID] = e
	m.store.mu.Unlock()

	metrics.RecordTaskStatus(string(mcptypes.TaskStatusWorking), 0)

	taskParams := *params
	taskParams.Task = nil // never re-enter task augmentation from inside the run

	go m.runTask(e, session, &taskParams, run)

	t := e.task
	return &t, nil
}

func (m *Manager) runTask(e *entry, session *mcpserver.ServerSession, params *mcptypes.CallToolParams, run mcpserver.ToolRunner) {
	defer func() {
		select {
		case <-e.done:
		default:
			close(e.done)
		}
	}()

	taskCtx, cancel := context.WithCancel(context.Background())
	m.store.mu.Lock()
	if cur, ok := m.store.tasks[e.task.TaskID]; ok {
		cur.cancel = cancel
	}
	m.store.mu.Unlock()
	defer cancel()

	result := runTaskBody(taskCtx, session, params, run)
	if result.Content == nil {
		cp := *result
		cp.Content = []mcptypes.Content{}
		result = &cp
	}

	m.finish(e, session, result, nil)
}

// runTaskBody invokes run and converts any Go error or panic into a
// tool-level CallToolResult{isError:true}, mirroring mcpserver's direct
// tools/call dispatch: a task's eventual result is always a CallToolResult,
// never a propagated Go error, even when the tool body fails.
func runTaskBody(ctx context.Context, session *mcpserver.ServerSession, params *mcptypes.CallToolParams, run mcpserver.ToolRunner) (result *mcptypes.CallToolResult) {
	defer func() {
		if r := recover(); r != nil {
			result = mcptypes.ErrorResult(fmt.Sprintf("%v", r))
		}
	}()
	res, err := run(ctx, session, params)
	if err != nil {
		return mcptypes.ErrorResult(err.Error())
	}
	if res == nil {
		return &mcptypes.CallToolResult{Content: []mcptypes.Content{}}
	}
	return res
}

func (m *Manager) finish(e *entry, session *mcpserver.ServerSession, result *mcptypes.CallToolResult, runErr error) {
	m.store.mu.Lock()
	cur := m.store.tasks[e.task.TaskID]
	if cur == nil {
		m.store.mu.Unlock()
		return
	}
	cur.result = result
	cur.err = runErr

	if cur.task.Status != mcptypes.TaskStatusCancelled {
		cur.task.LastUpdatedAt = time.Now().UTC().Format(time.RFC3339)
		switch {
		case runErr != nil:
			cur.task.Status = mcptypes.TaskStatusFailed
			cur.task.StatusMessage = runErr.Error()
		case result != nil && result.IsError:
			cur.task.Status = mcptypes.TaskStatusFailed
			cur.task.StatusMessage = "tool execution failed"
		default:
			cur.task.Status = mcptypes.TaskStatusCompleted
			cur.task.StatusMessage = ""
		}
	}
	t := cur.task
	createdAt := cur.createdAt
	m.store.mu.Unlock()

	metrics.RecordTaskStatus(string(t.Status), time.Since(createdAt))
	m.notifyStatus(session, &t)
}

func (m *Manager) notifyStatus(session *mcpserver.ServerSession, t *mcptypes.Task) {
	if session == nil {
		return
	}
	payload := mcptypes.TaskStatusNotificationParams{
		TaskID:        t.TaskID,
		Status:        t.Status,
		StatusMessage: t.StatusMessage,
	}
	if err := session.Protocol().Notify(context.Background(), mcptypes.NotificationTasksStatus, payload); err != nil {
		logger.Error("tasks: failed to publish status notification for %s: %v", t.TaskID, err)
	}
}

func (m *Manager) get(session *mcpserver.ServerSession, taskID string) (*entry, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	e := m.store.tasks[taskID]
	if e == nil || e.session != session {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "task not found", nil)
	}
	if e.expiresAt != nil && time.Now().After(*e.expiresAt) {
		delete(m.store.tasks, taskID)
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "task has expired", nil)
	}
	return e, nil
}

// GetTask returns the current state of taskID, as seen by session.
func (m *Manager) GetTask(session *mcpserver.ServerSession, taskID string) (*mcptypes.Task, error) {
	e, err := m.get(session, taskID)
	if err != nil {
		return nil, err
	}
	m.store.mu.Lock()
	t := e.task
	m.store.mu.Unlock()
	return &t, nil
}

// ListTasks returns session's tasks, paginated by cursor.
func (m *Manager) ListTasks(session *mcpserver.ServerSession, cursor string, pageSize int) ([]*mcptypes.Task, string, error) {
	start, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid cursor", nil)
	}

	entries := m.store.listForSession(session)

	startIdx := 0
	if start != 0 {
		found := false
		for i, e := range entries {
			if e.seq == start {
				startIdx = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, "", jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid cursor", nil)
		}
	}

	end := startIdx + pageSize
	if end > len(entries) || pageSize <= 0 {
		end = len(entries)
	}

	out := make([]*mcptypes.Task, 0, end-startIdx)
	for _, e := range entries[startIdx:end] {
		t := e.task
		out = append(out, &t)
	}

	var next string
	if end < len(entries) {
		next = encodeCursor(entries[end-1].seq)
	}
	return out, next, nil
}

// CancelTask transitions taskID to cancelled, invoking its run context's
// cancel func. Terminal tasks cannot be cancelled.
func (m *Manager) CancelTask(session *mcpserver.ServerSession, taskID string) (*mcptypes.Task, error) {
	if _, err := m.get(session, taskID); err != nil {
		return nil, err
	}

	m.store.mu.Lock()
	cur := m.store.tasks[taskID]
	if cur == nil {
		m.store.mu.Unlock()
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "task not found", nil)
	}
	if cur.task.Status.IsTerminal() {
		status := cur.task.Status
		m.store.mu.Unlock()
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, fmt.Sprintf("cannot cancel task: already %s", status), nil)
	}
	cur.task.Status = mcptypes.TaskStatusCancelled
	cur.task.StatusMessage = "The task was cancelled by request."
	cur.task.LastUpdatedAt = time.Now().UTC().Format(time.RFC3339)
	cancel := cur.cancel
	t := cur.task
	createdAt := cur.createdAt
	m.store.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	metrics.RecordTaskStatus(string(t.Status), time.Since(createdAt))
	m.notifyStatus(session, &t)
	return &t, nil
}

// TaskResult blocks until taskID reaches a terminal status, then returns its
// tool result (or the run error, if any).
func (m *Manager) TaskResult(ctx context.Context, session *mcpserver.ServerSession, taskID string) (*mcptypes.CallToolResult, error) {
	e, err := m.get(session, taskID)
	if err != nil {
		return nil, err
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.store.mu.Lock()
	cur := m.store.tasks[taskID]
	var result *mcptypes.CallToolResult
	var runErr error
	if cur != nil {
		result, runErr = cur.result, cur.err
	}
	m.store.mu.Unlock()

	if runErr != nil {
		return nil, runErr
	}
	if result == nil {
		result = &mcptypes.CallToolResult{Content: []mcptypes.Content{}}
	}
	return result.WithRelatedTask(taskID), nil
}
