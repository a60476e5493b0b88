// Package tasks implements the Task Subsystem: long-running
// tool executions tracked as pollable, cancellable Tasks. A task body runs
// on its own goroutine and issues any server->client reverse requests
// (elicitation, sampling) directly through its ServerSession; there is no
// per-task message queue.
package tasks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HyphaGroup/oubliette/internal/mcpserver"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
)

// entry is one task's full internal state. The externally visible subset is
// mirrored into mcptypes.Task on every status transition.
type entry struct {
	seq     uint64
	session *mcpserver.ServerSession

	task      mcptypes.Task
	createdAt time.Time
	expiresAt *time.Time

	cancel context.CancelFunc
	done   chan struct{}

	result *mcptypes.CallToolResult
	err    error
}

// Store tracks task entries in memory, keyed by task ID, with an
// insertion-order sequence number for cursor-based pagination.
type Store struct {
	mu    sync.Mutex
	next  uint64
	tasks map[string]*entry
}

func newStore() *Store {
	return &Store{tasks: make(map[string]*entry)}
}

func newTaskID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func encodeCursor(seq uint64) string { return strconv.FormatUint(seq, 10) }

func decodeCursor(cursor string) (uint64, error) {
	if cursor == "" {
		return 0, nil
	}
	return strconv.ParseUint(cursor, 10, 64)
}

// reapExpired drops every entry whose TTL has elapsed. Called periodically
// by Manager's cron job.
func (s *Store) reapExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.tasks {
		if e.expiresAt != nil && now.After(*e.expiresAt) {
			delete(s.tasks, id)
		}
	}
}

func (s *Store) listForSession(session *mcpserver.ServerSession) []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []*entry
	for id, e := range s.tasks {
		if e.session != session {
			continue
		}
		if e.expiresAt != nil && now.After(*e.expiresAt) {
			delete(s.tasks, id)
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
