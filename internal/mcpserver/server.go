// Package mcpserver implements the server role adapter over the Protocol
// Core: initialization, the tools/resources/prompts registries, and typed
// server->client helpers.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
	"github.com/HyphaGroup/oubliette/internal/logger"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
	"github.com/HyphaGroup/oubliette/internal/protocol"
	"github.com/HyphaGroup/oubliette/internal/transport"
	"github.com/HyphaGroup/oubliette/internal/validation"
)

// Options configures a Server.
type Options struct {
	Implementation mcptypes.Implementation
	Instructions   string
	Validator      validation.Validator
	// PageSize bounds tasks/list pagination. tools/resources/prompts lists
	// are returned whole, in one page.
	PageSize int
	// TaskManager, if set, backs task-augmented tools/call.
	// Left nil, task augmentation requests are rejected as unsupported.
	TaskManager TaskManager
}

// ToolRunner is the shape of a plain (non-task) tool invocation, used by a
// TaskManager implementation to actually run the tool body.
type ToolRunner func(ctx context.Context, session *ServerSession, params *mcptypes.CallToolParams) (*mcptypes.CallToolResult, error)

// TaskManager is the seam the Task Subsystem (internal/tasks) plugs into.
// Defined here, implemented there, to avoid a mcpserver<->tasks import cycle.
type TaskManager interface {
	CreateToolTask(ctx context.Context, session *ServerSession, params *mcptypes.CallToolParams, run ToolRunner) (*mcptypes.Task, error)
	GetTask(session *ServerSession, taskID string) (*mcptypes.Task, error)
	ListTasks(session *ServerSession, cursor string, pageSize int) ([]*mcptypes.Task, string, error)
	CancelTask(session *ServerSession, taskID string) (*mcptypes.Task, error)
	TaskResult(ctx context.Context, session *ServerSession, taskID string) (*mcptypes.CallToolResult, error)
}

type registeredTool struct {
	tool    *mcptypes.Tool
	handler ToolRunner
}

type registeredResource struct {
	resource *mcptypes.Resource
	handler  func(ctx context.Context, uri string) (*mcptypes.ReadResourceResult, error)
}

type registeredPrompt struct {
	prompt  *mcptypes.Prompt
	handler func(ctx context.Context, args map[string]string) (*mcptypes.GetPromptResult, error)
}

// Server owns the tool/resource/prompt registries for one MCP server
// identity. Every inbound Session gets its own Protocol and ServerSession,
// all sharing this Server's registries.
type Server struct {
	opts Options

	mu                sync.RWMutex
	tools             map[string]*registeredTool
	toolOrder         []string
	resources         map[string]*registeredResource
	resourceOrder     []string
	templates         []*registeredTemplate
	prompts           map[string]*registeredPrompt
	promptOrder       []string
	completers        map[string]completerFunc
	subscriptions     map[string]map[*ServerSession]struct{} // uri -> subscribed sessions

	capabilities mcptypes.ServerCapabilities
}

type completerFunc func(ctx context.Context, arg mcptypes.CompletionArgument) (*mcptypes.Completion, error)

// NewServer creates a Server with no tools/resources/prompts registered yet.
func NewServer(opts Options) *Server {
	if opts.Validator == nil {
		opts.Validator = validation.Default{}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	return &Server{
		opts:          opts,
		tools:         make(map[string]*registeredTool),
		resources:     make(map[string]*registeredResource),
		prompts:       make(map[string]*registeredPrompt),
		completers:    make(map[string]completerFunc),
		subscriptions: make(map[string]map[*ServerSession]struct{}),
	}
}

// ServerSession is the per-connection session handed to tool/resource/prompt
// handlers and owned by exactly one Protocol instance.
type ServerSession struct {
	id       string
	server   *Server
	proto    *protocol.Protocol
	peerCaps mcptypes.ClientCapabilities
	peerInfo mcptypes.Implementation

	logMu    sync.Mutex
	logLevel mcptypes.LoggingLevel
}

func (s *ServerSession) ID() string                               { return s.id }
func (s *ServerSession) Protocol() *protocol.Protocol              { return s.proto }
func (s *ServerSession) PeerCapabilities() mcptypes.ClientCapabilities { return s.peerCaps }
func (s *ServerSession) PeerInfo() mcptypes.Implementation          { return s.peerInfo }
func (s *ServerSession) Server() *Server                            { return s.server }

// Connect performs the server side of the initialize handshake over t and
// returns the resulting ServerSession, which remains usable for the lifetime
// of the connection.
func (srv *Server) Connect(ctx context.Context, t transport.Transport) (*ServerSession, error) {
	proto := protocol.New(protocol.Options{ResetDeadlineOnProgress: true})
	sess := &ServerSession{id: newSessionLocalID(), server: srv, proto: proto, logLevel: mcptypes.LogInfo}
	proto.SetCapabilityGate(srv.capabilityGate(sess))

	srv.installHandlers(sess)

	if err := proto.Connect(ctx, t); err != nil {
		return nil, err
	}
	return sess, nil
}

var sessionCounter struct {
	mu sync.Mutex
	n  int64
}

func newSessionLocalID() string {
	sessionCounter.mu.Lock()
	defer sessionCounter.mu.Unlock()
	sessionCounter.n++
	return fmt.Sprintf("sess-%d", sessionCounter.n)
}

func (srv *Server) installHandlers(sess *ServerSession) {
	p := sess.proto

	_ = p.SetRequestHandler(mcptypes.MethodInitialize, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		var params mcptypes.InitializeParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, jsonrpc.ErrInvalidParams("malformed initialize params")
		}
		if !mcptypes.SupportsProtocolVersion(params.ProtocolVersion) {
			logger.Error("mcpserver: unsupported protocol version %q requested", params.ProtocolVersion)
		}
		sess.peerCaps = params.Capabilities
		sess.peerInfo = params.ClientInfo
		return &mcptypes.InitializeResult{
			ProtocolVersion: mcptypes.LatestProtocolVersion,
			Capabilities:    srv.snapshotCapabilities(),
			ServerInfo:      srv.opts.Implementation,
			Instructions:    srv.opts.Instructions,
		}, nil
	})

	_ = p.SetNotificationHandler(mcptypes.NotificationInitialized, func(ctx context.Context, raw json.RawMessage) {
		p.SetInitialized()
	})

	_ = p.SetRequestHandler(mcptypes.MethodPing, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		return map[string]any{}, nil
	})

	srv.installToolHandlers(sess)
	srv.installResourceHandlers(sess)
	srv.installPromptHandlers(sess)
	srv.installCompletionHandler(sess)
	srv.installTaskHandlers(sess)
	srv.installLoggingHandler(sess)
}

// snapshotCapabilities builds the capabilities record advertised at
// initialize time, reflecting whatever has been registered so far plus any
// statically-enabled features (logging, tasks).
func (srv *Server) snapshotCapabilities() mcptypes.ServerCapabilities {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	caps := srv.capabilities
	if len(srv.tools) > 0 && caps.Tools == nil {
		caps.Tools = &mcptypes.ToolsCapability{}
	}
	if (len(srv.resources) > 0 || len(srv.templates) > 0) && caps.Resources == nil {
		caps.Resources = &mcptypes.ResourcesCapability{Subscribe: true}
	}
	if len(srv.prompts) > 0 && caps.Prompts == nil {
		caps.Prompts = &mcptypes.PromptsCapability{}
	}
	if len(srv.completers) > 0 && caps.Completions == nil {
		caps.Completions = &struct{}{}
	}
	return caps
}

// EnableSampling advertises that this server may issue sampling/createMessage.
func (srv *Server) EnableSampling() { srv.mu.Lock(); srv.capabilities.Sampling = &struct{}{}; srv.mu.Unlock() }

// EnableElicitation advertises that this server may issue elicitation/create.
func (srv *Server) EnableElicitation() {
	srv.mu.Lock()
	srv.capabilities.Elicitation = &struct{}{}
	srv.mu.Unlock()
}

// EnableLogging advertises logging/setLevel + notifications/message support.
func (srv *Server) EnableLogging() { srv.mu.Lock(); srv.capabilities.Logging = &struct{}{}; srv.mu.Unlock() }

// EnableTasks advertises task support, with list/cancel sub-features.
func (srv *Server) EnableTasks(list, cancel bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	tc := &mcptypes.TasksCapability{}
	if list {
		tc.List = &struct{}{}
	}
	if cancel {
		tc.Cancel = &struct{}{}
	}
	srv.capabilities.Tasks = tc
}

// capabilityGate maps a method to the capability that must be present on
// the *peer* (for outbound calls this server issues) to proceed.
func (srv *Server) capabilityGate(sess *ServerSession) protocol.CapabilityGate {
	return func(method string, outbound bool) error {
		if !outbound {
			return nil // inbound gating is handled by method registration itself
		}
		switch method {
		case mcptypes.MethodSamplingCreateMessage:
			if !sess.peerCaps.HasSampling() {
				return jsonrpc.ErrInvalidRequest("peer did not advertise sampling capability")
			}
		case mcptypes.MethodElicitationCreate:
			if !sess.peerCaps.HasElicitation() {
				return jsonrpc.ErrInvalidRequest("peer did not advertise elicitation capability")
			}
		case mcptypes.MethodRootsList:
			if sess.peerCaps.Roots == nil {
				return jsonrpc.ErrInvalidRequest("peer did not advertise roots capability")
			}
		}
		return nil
	}
}
