package streamable

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/HyphaGroup/oubliette/internal/logger"
	"github.com/HyphaGroup/oubliette/internal/mcpserver"
	"github.com/HyphaGroup/oubliette/internal/metrics"
	"github.com/HyphaGroup/oubliette/internal/transport"
)

const sessionHeader = "Mcp-Session-Id"

// HandlerOptions configures a Handler's session lifecycle and HTTP security
// posture.
type HandlerOptions struct {
	// EventStore backs SSE resumption. Defaults to an in-memory store.
	EventStore EventStore
	// SessionTTL bounds how long an idle session's transport and stored
	// events are retained before the reaper drops them. Zero disables expiry.
	SessionTTL time.Duration
	// AllowedOrigins is the CORS allowlist for the Origin header; "*" allows
	// any origin. Empty means no CORS headers are sent (same-origin only).
	AllowedOrigins []string
	// AllowedHosts, if non-empty, restricts the Host header to this set,
	// guarding against DNS rebinding attacks on localhost-bound servers.
	AllowedHosts []string
	// Authenticator, if set, gates every request; returning false replies
	// 403 with no body. Left nil, all requests
	// are accepted.
	Authenticator func(*http.Request) bool
	// DisableSessionTermination, if true, makes DELETE always reply 405
	// rather than tearing the session down.
	DisableSessionTermination bool
}

func (o HandlerOptions) withDefaults() HandlerOptions {
	if o.EventStore == nil {
		o.EventStore = NewMemoryEventStore()
	}
	return o
}

// Handler is an http.Handler serving one or more streamable MCP sessions
// backed by a single mcpserver.Server.
type Handler struct {
	server  *mcpserver.Server
	opts    HandlerOptions

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	transport *ServerTransport
	lastSeen  time.Time
	openedAt  time.Time
	timer     *time.Timer
}

// NewHandler returns a Handler dispatching new sessions against srv.
func NewHandler(srv *mcpserver.Server, opts HandlerOptions) *Handler {
	return &Handler{
		server:   srv,
		opts:     opts.withDefaults(),
		sessions: make(map[string]*sessionEntry),
	}
}

// CloseAll terminates every open session, for graceful shutdown.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	entries := h.sessions
	h.sessions = make(map[string]*sessionEntry)
	h.mu.Unlock()
	for _, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		_ = e.transport.Close()
		metrics.RecordSessionClose("shutdown", time.Since(e.openedAt))
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !h.checkHost(req) {
		http.Error(w, "host not allowed", http.StatusForbidden)
		return
	}
	if !h.checkOrigin(req) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	h.applyCORS(w, req)
	if req.Method != http.MethodOptions && h.opts.Authenticator != nil && !h.opts.Authenticator(req) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	accept := strings.Split(strings.Join(req.Header.Values("Accept"), ","), ",")
	var jsonOK, streamOK bool
	for _, c := range accept {
		switch strings.TrimSpace(c) {
		case "application/json":
			jsonOK = true
		case "text/event-stream":
			streamOK = true
		case "*/*":
			jsonOK, streamOK = true, true
		}
	}
	if req.Method == http.MethodGet && !streamOK {
		http.Error(w, "Accept must include text/event-stream for GET", http.StatusBadRequest)
		return
	}
	if req.Method == http.MethodPost && !(jsonOK && streamOK) {
		http.Error(w, "Accept must include application/json and text/event-stream for POST", http.StatusBadRequest)
		return
	}

	sessionID := req.Header.Get(sessionHeader)
	var entry *sessionEntry
	if sessionID != "" {
		h.mu.Lock()
		entry = h.sessions[sessionID]
		h.mu.Unlock()
		if entry == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
	}

	if req.Method == http.MethodDelete {
		if h.opts.DisableSessionTermination {
			http.Error(w, "session termination not supported", http.StatusMethodNotAllowed)
			return
		}
		if entry == nil {
			http.Error(w, "DELETE requires "+sessionHeader, http.StatusBadRequest)
			return
		}
		h.dropSession(sessionID, "deleted")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch req.Method {
	case http.MethodPost, http.MethodGet:
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
		return
	}

	if entry == nil {
		st := NewServerTransport(NewSessionID(), h.opts.EventStore)
		if _, err := h.server.Connect(req.Context(), st); err != nil {
			logger.Error("streamable: session connect failed: %v", err)
			http.Error(w, "failed to establish session", http.StatusInternalServerError)
			return
		}
		now := time.Now()
		entry = &sessionEntry{transport: st, lastSeen: now, openedAt: now}
		h.mu.Lock()
		h.sessions[st.SessionID()] = entry
		h.mu.Unlock()
		metrics.RecordSessionOpen()
		h.armTTL(st.SessionID())
	} else {
		h.touch(entry.transport.SessionID())
	}

	entry.transport.ServeHTTP(w, req)
}

func (h *Handler) dropSession(id, reason string) {
	h.mu.Lock()
	entry, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	h.mu.Unlock()
	if ok {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		_ = entry.transport.Close()
		metrics.RecordSessionClose(reason, time.Since(entry.openedAt))
	}
}

func (h *Handler) touch(id string) {
	if h.opts.SessionTTL <= 0 {
		return
	}
	h.mu.Lock()
	entry, ok := h.sessions[id]
	if ok {
		entry.lastSeen = time.Now()
	}
	h.mu.Unlock()
	if ok {
		h.armTTL(id)
	}
}

func (h *Handler) armTTL(id string) {
	if h.opts.SessionTTL <= 0 {
		return
	}
	h.mu.Lock()
	entry, ok := h.sessions[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.timer = time.AfterFunc(h.opts.SessionTTL, func() { h.dropSession(id, "ttl") })
	h.mu.Unlock()
}

func (h *Handler) checkHost(req *http.Request) bool {
	if len(h.opts.AllowedHosts) == 0 {
		return true
	}
	host := req.Host
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	for _, allowed := range h.opts.AllowedHosts {
		if allowed == host {
			return true
		}
	}
	return false
}

// checkOrigin enforces DNS-rebinding protection (enabled by a non-empty
// AllowedHosts) against the Origin header: validated against
// AllowedOrigins if configured, else against the host allowlist itself.
// "null" origins and requests with no matching entry are rejected; a
// missing Origin header (non-browser clients) is not.
func (h *Handler) checkOrigin(req *http.Request) bool {
	if len(h.opts.AllowedHosts) == 0 {
		return true
	}
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if origin == "null" {
		return false
	}
	if len(h.opts.AllowedOrigins) > 0 {
		for _, allowed := range h.opts.AllowedOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.opts.AllowedHosts {
		if allowed == u.Hostname() {
			return true
		}
	}
	return false
}

// applyCORS is unconditional per spec: OPTIONS always gets the allow-methods
// and exposed session header, regardless of whether an origin allowlist is
// configured. Access-Control-Allow-Origin/Allow-Headers are only echoed back
// when the request's Origin matches a configured allowlist entry.
func (h *Handler) applyCORS(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Expose-Headers", sessionHeader)

	origin := req.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", sessionHeader+", Content-Type, Last-Event-ID")
			return
		}
	}
}

var _ transport.Transport = (*ServerTransport)(nil)
