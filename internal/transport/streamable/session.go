// Package streamable implements the Streamable HTTP Transport: a
// session-oriented POST+SSE transport where a session may span many
// HTTP requests, responses may arrive as a single JSON body or a
// server-sent-events stream, and dropped connections can resume via
// Last-Event-ID.
package streamable

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
	"github.com/HyphaGroup/oubliette/internal/metrics"
	"github.com/HyphaGroup/oubliette/internal/protocol"
)

// ServerTransport implements transport.Transport for a single streamable
// HTTP session. One is created per Mcp-Session-Id; the HTTP handler routes
// GET/POST/DELETE requests for that ID to its ServeHTTP method.
type ServerTransport struct {
	id         string
	eventStore EventStore

	nextStreamID atomic.Int64

	mu             sync.Mutex
	isDone         bool
	done           chan struct{}
	signals        map[int64]chan struct{}
	requestStreams map[string]int64              // jsonrpc.ID.String() -> streamID that will carry its response
	streamRequests map[int64]map[string]struct{} // streamID -> outstanding request IDs on that stream
	streamCounts   map[int64]int                 // streamID -> events appended so far

	onMessage func(jsonrpc.Message)
	onError   func(error)
	onClose   func()
}

// NewServerTransport creates a session-scoped transport. sessionID should be
// unpredictable (see NewSessionID); store is shared across sessions.
func NewServerTransport(sessionID string, store EventStore) *ServerTransport {
	return &ServerTransport{
		id:             sessionID,
		eventStore:     store,
		done:           make(chan struct{}),
		signals:        make(map[int64]chan struct{}),
		requestStreams: make(map[string]int64),
		streamRequests: make(map[int64]map[string]struct{}),
		streamCounts:   make(map[int64]int),
	}
}

func (t *ServerTransport) SessionID() string { return t.id }

func (t *ServerTransport) SetCallbacks(onMessage func(jsonrpc.Message), onError func(error), onClose func()) {
	t.onMessage, t.onError, t.onClose = onMessage, onError, onClose
}

// Start is a no-op: message delivery is driven by inbound HTTP requests
// rather than a background read loop.
func (t *ServerTransport) Start(ctx context.Context) error { return nil }

// Send appends msg to the logical stream that should deliver it: the stream
// that carried the originating request, for a Response; the stream bound to
// the in-flight request being handled, for a Request/Notification issued
// from within a handler (via protocol.ForRequest); or the standalone GET
// stream (id 0) otherwise.
func (t *ServerTransport) Send(ctx context.Context, msg jsonrpc.Message) error {
	streamID := t.resolveOutgoingStream(ctx, msg)

	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return fmt.Errorf("streamable: encode outgoing message: %w", err)
	}

	t.mu.Lock()
	if resp, ok := msg.(*jsonrpc.Response); ok {
		key := resp.ID.String()
		if reqs, ok := t.streamRequests[streamID]; ok {
			delete(reqs, key)
		}
		delete(t.requestStreams, key)
	}
	idx := t.streamCounts[streamID]
	t.streamCounts[streamID] = idx + 1
	signal := t.signals[streamID]
	t.mu.Unlock()

	if _, err := t.eventStore.Append(ctx, t.id, streamID, data); err != nil {
		metrics.RecordEventDrop(t.id)
		return fmt.Errorf("streamable: persisting outgoing event: %w", err)
	}

	if signal != nil {
		select {
		case signal <- struct{}{}:
		default:
		}
	}
	return nil
}

func (t *ServerTransport) resolveOutgoingStream(ctx context.Context, msg jsonrpc.Message) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch m := msg.(type) {
	case *jsonrpc.Response:
		if sid, ok := t.requestStreams[m.ID.String()]; ok {
			return sid
		}
	default:
		if reqID, ok := protocol.ForRequest(ctx); ok {
			if sid, ok := t.requestStreams[reqID.String()]; ok {
				return sid
			}
		}
	}
	return 0 // standalone GET stream
}

// Close tears the session down: any hanging requests observe t.done and
// return, and stored events are discarded.
func (t *ServerTransport) Close() error {
	t.mu.Lock()
	if t.isDone {
		t.mu.Unlock()
		return nil
	}
	t.isDone = true
	close(t.done)
	t.mu.Unlock()

	_ = t.eventStore.DropSession(context.Background(), t.id)
	if t.onClose != nil {
		t.onClose()
	}
	return nil
}

// ServeHTTP dispatches a single HTTP request belonging to this session.
func (t *ServerTransport) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		t.serveGET(w, req)
	case http.MethodPost:
		t.servePOST(w, req)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
	}
}

func (t *ServerTransport) serveGET(w http.ResponseWriter, req *http.Request) {
	streamID, nextIdx := int64(0), 0
	if last := req.Header.Get("Last-Event-ID"); last != "" {
		sid, idx, ok := parseEventID(last)
		if !ok {
			http.Error(w, fmt.Sprintf("malformed Last-Event-ID %q", last), http.StatusBadRequest)
			return
		}
		streamID, nextIdx = sid, idx+1
	}

	t.mu.Lock()
	if _, busy := t.signals[streamID]; busy {
		t.mu.Unlock()
		http.Error(w, "stream already has an open connection", http.StatusConflict)
		return
	}
	signal := make(chan struct{}, 1)
	t.signals[streamID] = signal
	t.mu.Unlock()
	if streamID == 0 {
		metrics.StandaloneStreams.Inc()
		defer metrics.StandaloneStreams.Dec()
	}
	defer func() {
		t.mu.Lock()
		delete(t.signals, streamID)
		t.mu.Unlock()
	}()

	t.streamResponse(w, req, streamID, nextIdx)
}

func (t *ServerTransport) servePOST(w http.ResponseWriter, req *http.Request) {
	if req.Header.Get("Last-Event-ID") != "" {
		http.Error(w, "Last-Event-ID is not valid on POST", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	msg, err := jsonrpc.Decode(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("malformed payload: %v", err), http.StatusBadRequest)
		return
	}

	streamID := t.nextStreamID.Add(1)
	signal := make(chan struct{}, 1)

	t.mu.Lock()
	t.signals[streamID] = signal
	isRequest := false
	if r, ok := msg.(*jsonrpc.Request); ok && r.ID.IsValid() {
		isRequest = true
		key := r.ID.String()
		t.requestStreams[key] = streamID
		t.streamRequests[streamID] = map[string]struct{}{key: {}}
	}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.signals, streamID)
		t.mu.Unlock()
	}()

	if t.onMessage != nil {
		t.onMessage(msg)
	}

	if !isRequest {
		w.Header().Set("Mcp-Session-Id", t.id)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	metrics.PerRequestStreams.Inc()
	defer metrics.PerRequestStreams.Dec()
	t.streamResponse(w, req, streamID, 0)
}

func (t *ServerTransport) streamResponse(w http.ResponseWriter, req *http.Request, streamID int64, nextIdx int) {
	w.Header().Set("Mcp-Session-Id", t.id)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")

	ctx := req.Context()
	writes := 0
	for {
		stored, err := t.eventStore.Replay(ctx, t.id, streamID, nextIdx)
		if err != nil {
			if t.onError != nil {
				t.onError(err)
			}
			return
		}
		for _, data := range stored {
			if _, err := writeEvent(w, event{id: formatEventID(streamID, nextIdx), data: data}); err != nil {
				return
			}
			writes++
			nextIdx++
		}

		t.mu.Lock()
		outstanding := len(t.streamRequests[streamID])
		t.mu.Unlock()

		if req.Method == http.MethodPost && outstanding == 0 {
			if writes == 0 {
				w.WriteHeader(http.StatusAccepted)
			}
			return
		}

		t.mu.Lock()
		signal := t.signals[streamID]
		t.mu.Unlock()

		select {
		case <-signal:
		case <-t.done:
			if writes == 0 {
				http.Error(w, "session terminated", http.StatusGone)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// NewSessionID returns a fresh, unpredictable session identifier suitable
// for the Mcp-Session-Id header.
func NewSessionID() string { return newRandomID(24) }
