// Package mcpclient implements the client role adapter over the Protocol
// Core: initialization, typed request helpers, and slots for the
// server-initiated requests a host application opts into (sampling,
// elicitation, roots).
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
	"github.com/HyphaGroup/oubliette/internal/protocol"
	"github.com/HyphaGroup/oubliette/internal/transport"
	"github.com/HyphaGroup/oubliette/internal/validation"
)

// SamplingHandler answers a server-initiated sampling/createMessage.
type SamplingHandler func(ctx context.Context, params *mcptypes.CreateMessageParams) (*mcptypes.CreateMessageResult, error)

// ElicitationHandler answers a server-initiated elicitation/create.
type ElicitationHandler func(ctx context.Context, params *mcptypes.ElicitParams) (*mcptypes.ElicitResult, error)

// Options configures a Client.
type Options struct {
	Implementation mcptypes.Implementation
	Roots          []mcptypes.Root
	Validator      validation.Validator

	OnSampling    SamplingHandler
	OnElicitation ElicitationHandler
	OnLogMessage  func(params *mcptypes.LoggingMessageParams)
}

// Client is the host-side role adapter: one Client per connected server.
type Client struct {
	opts     Options
	proto    *protocol.Protocol
	peerCaps mcptypes.ServerCapabilities
	peerInfo mcptypes.Implementation

	toolsMu sync.Mutex
	tools   map[string]*mcptypes.Tool // populated by ListTools, consulted by CallTool
}

func New(opts Options) *Client {
	if opts.Validator == nil {
		opts.Validator = validation.Default{}
	}
	return &Client{opts: opts}
}

// PeerCapabilities returns the server's advertised capabilities, valid only
// after Connect has completed the handshake.
func (c *Client) PeerCapabilities() mcptypes.ServerCapabilities { return c.peerCaps }
func (c *Client) PeerInfo() mcptypes.Implementation             { return c.peerInfo }
func (c *Client) Protocol() *protocol.Protocol                  { return c.proto }

// Connect performs the client side of the initialize handshake over t.
func (c *Client) Connect(ctx context.Context, t transport.Transport) error {
	c.proto = protocol.New(protocol.Options{ResetDeadlineOnProgress: true})
	c.proto.SetCapabilityGate(c.capabilityGate())
	c.installHandlers()

	if err := c.proto.Connect(ctx, t); err != nil {
		return err
	}

	caps := mcptypes.ClientCapabilities{}
	if c.opts.OnSampling != nil {
		caps.Sampling = &struct{}{}
	}
	if c.opts.OnElicitation != nil {
		caps.Elicitation = &struct{}{}
	}
	if len(c.opts.Roots) > 0 {
		caps.Roots = &mcptypes.RootsCapability{}
	}

	raw, err := c.proto.Request(ctx, mcptypes.MethodInitialize, &mcptypes.InitializeParams{
		ProtocolVersion: mcptypes.LatestProtocolVersion,
		Capabilities:    caps,
		ClientInfo:      c.opts.Implementation,
	}, nil)
	if err != nil {
		return fmt.Errorf("mcpclient: initialize: %w", err)
	}
	var result mcptypes.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("mcpclient: malformed initialize result: %w", err)
	}
	if !mcptypes.SupportsProtocolVersion(result.ProtocolVersion) {
		return fmt.Errorf("mcpclient: server speaks unsupported protocol version %q", result.ProtocolVersion)
	}
	c.peerCaps = result.Capabilities
	c.peerInfo = result.ServerInfo
	c.proto.SetInitialized() // lifts the pre-init restriction once the handshake succeeded

	return c.proto.Notify(ctx, mcptypes.NotificationInitialized, nil)
}

func (c *Client) installHandlers() {
	p := c.proto

	_ = p.SetRequestHandler(mcptypes.MethodPing, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		return map[string]any{}, nil
	})

	_ = p.SetRequestHandler(mcptypes.MethodRootsList, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		return &mcptypes.ListRootsResult{Roots: c.opts.Roots}, nil
	})

	_ = p.SetRequestHandler(mcptypes.MethodSamplingCreateMessage, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		if c.opts.OnSampling == nil {
			return nil, jsonrpc.ErrMethodNotFound(mcptypes.MethodSamplingCreateMessage)
		}
		var params mcptypes.CreateMessageParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, jsonrpc.ErrInvalidParams("malformed sampling/createMessage params")
		}
		return c.opts.OnSampling(ctx, &params)
	})

	_ = p.SetRequestHandler(mcptypes.MethodElicitationCreate, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		if c.opts.OnElicitation == nil {
			return nil, jsonrpc.ErrMethodNotFound(mcptypes.MethodElicitationCreate)
		}
		var params mcptypes.ElicitParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, jsonrpc.ErrInvalidParams("malformed elicitation/create params")
		}
		return c.opts.OnElicitation(ctx, &params)
	})

	_ = p.SetNotificationHandler(mcptypes.NotificationMessage, func(ctx context.Context, raw json.RawMessage) {
		if c.opts.OnLogMessage == nil {
			return
		}
		var params mcptypes.LoggingMessageParams
		if err := json.Unmarshal(raw, &params); err == nil {
			c.opts.OnLogMessage(&params)
		}
	})
}

// capabilityGate blocks outbound calls the server never advertised support
// for.
func (c *Client) capabilityGate() protocol.CapabilityGate {
	return func(method string, outbound bool) error {
		if !outbound || method == mcptypes.MethodInitialize {
			return nil
		}
		switch method {
		case mcptypes.MethodToolsList, mcptypes.MethodToolsCall:
			if !c.peerCaps.HasTools() {
				return jsonrpc.ErrInvalidRequest("server did not advertise tools capability")
			}
		case mcptypes.MethodResourcesList, mcptypes.MethodResourceTemplatesList, mcptypes.MethodResourcesRead:
			if !c.peerCaps.HasResources() {
				return jsonrpc.ErrInvalidRequest("server did not advertise resources capability")
			}
		case mcptypes.MethodResourcesSubscribe, mcptypes.MethodResourcesUnsubscribe:
			if !c.peerCaps.ResourcesSubscribe() {
				return jsonrpc.ErrInvalidRequest("server did not advertise resource subscription support")
			}
		case mcptypes.MethodPromptsList, mcptypes.MethodPromptsGet:
			if !c.peerCaps.HasPrompts() {
				return jsonrpc.ErrInvalidRequest("server did not advertise prompts capability")
			}
		case mcptypes.MethodCompletionComplete:
			if !c.peerCaps.HasCompletions() {
				return jsonrpc.ErrInvalidRequest("server did not advertise completions capability")
			}
		case mcptypes.MethodLoggingSetLevel:
			if !c.peerCaps.HasLogging() {
				return jsonrpc.ErrInvalidRequest("server did not advertise logging capability")
			}
		case mcptypes.MethodTasksList, mcptypes.MethodTasksGet, mcptypes.MethodTasksResult, mcptypes.MethodTasksCancel:
			if !c.peerCaps.HasTasks() {
				return jsonrpc.ErrInvalidRequest("server did not advertise tasks capability")
			}
		}
		return nil
	}
}
