// Package protocol implements the Protocol Core: a symmetric JSON-RPC peer
// that correlates requests/responses, dispatches handlers, and enforces
// timeouts, cancellation, and capability gating.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
	"github.com/HyphaGroup/oubliette/internal/logger"
	"github.com/HyphaGroup/oubliette/internal/transport"
)

// DefaultTimeout is the per-request deadline when none is specified.
const DefaultTimeout = 60 * time.Second

// Options configures a Protocol instance.
type Options struct {
	// DefaultTimeout overrides DefaultTimeout for requests that don't specify one.
	DefaultTimeout time.Duration
	// ResetDeadlineOnProgress: progress notifications for a pending request
	// push its deadline back out. The zero value leaves it off; the client
	// and server role adapters (mcpclient, mcpserver) turn it on.
	ResetDeadlineOnProgress bool
}

func (o Options) withDefaults() Options {
	if o.DefaultTimeout == 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	return o
}

// RequestHandler answers an inbound request. Returning a *jsonrpc.Error
// preserves its code on the wire; any other error becomes InternalError.
type RequestHandler func(ctx context.Context, extra *RequestExtra, params json.RawMessage) (result any, err error)

// NotificationHandler handles an inbound notification. No reply is possible.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// ProgressHandler is invoked when a progress notification arrives correlated
// to an outbound request this side issued.
type ProgressHandler func(progress, total float64, message string)

// CapabilityGate is consulted before sending or dispatching a method-gated
// request; returning a non-nil error blocks the call locally before it ever
// touches the wire.
type CapabilityGate func(method string, outbound bool) error

// RequestExtra is threaded into RequestHandler, giving it a cancellation
// signal and the ability to issue its own requests/notifications back to the
// peer while still handling the inbound one.
type RequestExtra struct {
	RequestID jsonrpc.ID
	Done      <-chan struct{} // closed when notifications/cancelled arrives for this request
	Session   any             // opaque session handle, set by the owning role adapter

	proto *Protocol
}

func (e *RequestExtra) SendNotification(ctx context.Context, method string, params any) error {
	return e.proto.Notify(ctx, method, params)
}

func (e *RequestExtra) SendRequest(ctx context.Context, method string, params any, opts *RequestOptions) (json.RawMessage, error) {
	ctx = withRequestID(ctx, e.RequestID)
	return e.proto.Request(ctx, method, params, opts)
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id jsonrpc.ID) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// ForRequest returns the inbound request ID a context is associated with, if
// any — used by transports (e.g. Streamable HTTP) to route outbound messages
// produced while handling that request to the right stream.
func ForRequest(ctx context.Context) (jsonrpc.ID, bool) {
	id, ok := ctx.Value(requestIDKey{}).(jsonrpc.ID)
	return id, ok
}

type pendingRequest struct {
	resultCh chan pendingResult
	progress ProgressHandler
	timer    *time.Timer
	mu       sync.Mutex // protects timer resets
}

type pendingResult struct {
	result json.RawMessage
	err    error
}

// Protocol is a symmetric JSON-RPC peer, shared by the client and server role
// adapters.
type Protocol struct {
	opts      Options
	transport transport.Transport
	gate      CapabilityGate

	nextRequestID atomic.Int64

	mu                   sync.Mutex
	pending              map[string]*pendingRequest
	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler
	progressHandlers     map[string]string // progressToken -> pending request key
	inflight             map[string]chan struct{} // inbound request key -> cancel-signal close channel

	isConnected   atomic.Bool
	isInitialized atomic.Bool

	closeOnce sync.Once
}

// New creates a Protocol with the given options. SetCapabilityGate should be
// called by the owning role adapter before Connect.
func New(opts Options) *Protocol {
	return &Protocol{
		opts:                 opts.withDefaults(),
		pending:              make(map[string]*pendingRequest),
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
		progressHandlers:     make(map[string]string),
		inflight:             make(map[string]chan struct{}),
	}
}

// SetCapabilityGate installs the method -> capability check used before any
// gated request is sent or dispatched.
func (p *Protocol) SetCapabilityGate(g CapabilityGate) { p.gate = g }

// SetInitialized marks the handshake complete, lifting the pre-init request
// restriction.
func (p *Protocol) SetInitialized() { p.isInitialized.Store(true) }

func (p *Protocol) IsInitialized() bool { return p.isInitialized.Load() }
func (p *Protocol) IsConnected() bool   { return p.isConnected.Load() }

// Connect wires the transport's callbacks and starts it. It does not perform
// the initialize handshake itself; client/server adapters layer that on top.
func (p *Protocol) Connect(ctx context.Context, t transport.Transport) error {
	if p.isConnected.Load() {
		return fmt.Errorf("protocol: already connected")
	}
	p.transport = t
	t.SetCallbacks(p.onMessage, p.onError, p.onClose)
	if err := t.Start(ctx); err != nil {
		return fmt.Errorf("protocol: transport start: %w", err)
	}
	p.isConnected.Store(true)
	return nil
}

// SetRequestHandler registers a dispatcher for inbound requests of the given
// method. At most one handler per method.
func (p *Protocol) SetRequestHandler(method string, h RequestHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.requestHandlers[method]; exists {
		return fmt.Errorf("protocol: request handler already set for %q", method)
	}
	p.requestHandlers[method] = h
	return nil
}

// SetNotificationHandler registers a dispatcher for inbound notifications.
func (p *Protocol) SetNotificationHandler(method string, h NotificationHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.notificationHandlers[method]; exists {
		return fmt.Errorf("protocol: notification handler already set for %q", method)
	}
	p.notificationHandlers[method] = h
	return nil
}

// RequestOptions configures a single outbound request.
type RequestOptions struct {
	Timeout        time.Duration // 0 uses Options.DefaultTimeout; negative disables the deadline
	Progress       ProgressHandler
	ResumptionToken string
}

// Request allocates a fresh ID, sends the request, and blocks for the
// matching response, deadline, cancellation, or transport close.
func (p *Protocol) Request(ctx context.Context, method string, params any, opts *RequestOptions) (json.RawMessage, error) {
	if !p.isInitialized.Load() && method != "initialize" {
		return nil, jsonrpc.ErrInvalidRequest("cannot send " + method + " before initialization")
	}
	if p.gate != nil {
		if err := p.gate(method, true); err != nil {
			return nil, err
		}
	}
	if !p.isConnected.Load() {
		return nil, jsonrpc.ErrConnectionClosed()
	}
	if opts == nil {
		opts = &RequestOptions{}
	}

	id := jsonrpc.IntID(p.nextRequestID.Add(1) - 1)
	key := id.String()

	raw, err := marshalParams(params)
	if err != nil {
		return nil, jsonrpc.ErrInternal(err.Error())
	}

	pr := &pendingRequest{resultCh: make(chan pendingResult, 1), progress: opts.Progress}

	timeout := p.opts.DefaultTimeout
	if opts.Timeout != 0 {
		timeout = opts.Timeout
	}
	// Timer starts when the request is queued for send.
	if timeout > 0 {
		pr.timer = time.AfterFunc(timeout, func() { p.failPending(key, jsonrpc.ErrRequestTimeout()) })
	}

	p.mu.Lock()
	p.pending[key] = pr
	if tok, ok := progressTokenFromContext(ctx); ok {
		p.progressHandlers[tok] = key
	}
	p.mu.Unlock()

	req := &jsonrpc.Request{ID: id, Method: method, Params: raw}
	if err := p.transport.Send(ctx, req); err != nil {
		p.failPending(key, jsonrpc.ErrConnectionClosed())
		return nil, err
	}

	select {
	case res := <-pr.resultCh:
		return res.result, res.err
	case <-ctx.Done():
		p.cancelPending(key, "context cancelled")
		return nil, ctx.Err()
	}
}

// Cancel cancels an outstanding outbound request by resending its ID: sends
// notifications/cancelled and resolves the local future immediately.
func (p *Protocol) Cancel(ctx context.Context, id jsonrpc.ID, reason string) {
	key := id.String()
	_ = p.Notify(ctx, "notifications/cancelled", map[string]any{
		"requestId": id.Raw(),
		"reason":    reason,
	})
	p.cancelPending(key, reason)
}

func (p *Protocol) cancelPending(key, reason string) {
	p.mu.Lock()
	pr, ok := p.pending[key]
	if ok {
		delete(p.pending, key)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	if pr.timer != nil {
		pr.timer.Stop()
	}
	select {
	case pr.resultCh <- pendingResult{err: fmt.Errorf("request cancelled: %s", reason)}:
	default:
	}
}

func (p *Protocol) failPending(key string, err error) {
	p.mu.Lock()
	pr, ok := p.pending[key]
	if ok {
		delete(p.pending, key)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	if pr.timer != nil {
		pr.timer.Stop()
	}
	select {
	case pr.resultCh <- pendingResult{err: err}:
	default:
	}
}

// Notify sends a fire-and-forget notification. No correlation is kept.
func (p *Protocol) Notify(ctx context.Context, method string, params any) error {
	if !p.isInitialized.Load() && method != "notifications/initialized" && method != "notifications/cancelled" {
		return jsonrpc.ErrInvalidRequest("cannot send " + method + " before initialization")
	}
	if p.gate != nil {
		if err := p.gate(method, true); err != nil {
			return err
		}
	}
	if !p.isConnected.Load() {
		return jsonrpc.ErrConnectionClosed()
	}
	raw, err := marshalParams(params)
	if err != nil {
		return jsonrpc.ErrInternal(err.Error())
	}
	return p.transport.Send(ctx, &jsonrpc.Notification{Method: method, Params: raw})
}

// Close closes the transport, clears handlers, and rejects all pending
// requests with ConnectionClosed.
func (p *Protocol) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.isConnected.Store(false)
		if p.transport != nil {
			err = p.transport.Close()
		}
		p.mu.Lock()
		pending := p.pending
		p.pending = make(map[string]*pendingRequest)
		p.mu.Unlock()
		for _, pr := range pending {
			if pr.timer != nil {
				pr.timer.Stop()
			}
			select {
			case pr.resultCh <- pendingResult{err: jsonrpc.ErrConnectionClosed()}:
			default:
			}
		}
	})
	return err
}

// onClose is the transport's close callback: treated identically to an
// explicit Close.
func (p *Protocol) onClose() {
	_ = p.Close()
}

func (p *Protocol) onError(err error) {
	logger.Error("protocol: transport error: %v", err)
}

// onMessage is the transport's single-threaded delivery callback.
func (p *Protocol) onMessage(msg jsonrpc.Message) {
	switch m := msg.(type) {
	case *jsonrpc.Response:
		p.handleResponse(m)
	case *jsonrpc.Request:
		go p.handleRequest(m) // handlers may suspend; must not block the receive loop
	case *jsonrpc.Notification:
		p.handleNotification(m)
	}
}

func (p *Protocol) handleResponse(resp *jsonrpc.Response) {
	key := resp.ID.String()
	p.mu.Lock()
	pr, ok := p.pending[key]
	if ok {
		delete(p.pending, key)
	}
	p.mu.Unlock()
	if !ok {
		logger.Error("protocol: response for unknown request id %v dropped", resp.ID.Raw())
		return
	}
	if pr.timer != nil {
		pr.timer.Stop()
	}
	var res pendingResult
	if resp.IsError() {
		res.err = resp.Error
	} else {
		res.result = resp.Result
	}
	select {
	case pr.resultCh <- res:
	default:
	}
}

func (p *Protocol) resetDeadline(key string) {
	if !p.opts.ResetDeadlineOnProgress {
		return
	}
	p.mu.Lock()
	pr, ok := p.pending[key]
	p.mu.Unlock()
	if !ok || pr.timer == nil {
		return
	}
	pr.mu.Lock()
	pr.timer.Reset(p.opts.DefaultTimeout)
	pr.mu.Unlock()
}

func (p *Protocol) handleNotification(n *jsonrpc.Notification) {
	switch n.Method {
	case "notifications/cancelled":
		var params struct {
			RequestID json.RawMessage `json:"requestId"`
			Reason    string          `json:"reason"`
		}
		if err := json.Unmarshal(n.Params, &params); err != nil {
			logger.Error("protocol: malformed notifications/cancelled: %v", err)
			return
		}
		var id jsonrpc.ID
		if err := id.UnmarshalJSON(params.RequestID); err != nil {
			return
		}
		p.mu.Lock()
		ch, ok := p.inflight[id.String()]
		p.mu.Unlock()
		if ok {
			select {
			case <-ch:
			default:
				close(ch)
			}
		}
		return
	case "notifications/progress":
		var params mcpProgress
		if err := json.Unmarshal(n.Params, &params); err != nil {
			return
		}
		tok := fmt.Sprintf("%v", params.ProgressToken)
		p.mu.Lock()
		key, ok := p.progressHandlers[tok]
		var pr *pendingRequest
		if ok {
			pr = p.pending[key]
		}
		p.mu.Unlock()
		if ok {
			p.resetDeadline(key)
			if pr != nil && pr.progress != nil {
				pr.progress(params.Progress, params.Total, params.Message)
			}
		}
		return
	}

	p.mu.Lock()
	h, ok := p.notificationHandlers[n.Method]
	p.mu.Unlock()
	if !ok {
		return // unknown notification methods are silently ignored
	}
	h(context.Background(), n.Params)
}

type mcpProgress struct {
	ProgressToken any     `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total,omitempty"`
	Message       string  `json:"message,omitempty"`
}

func (p *Protocol) handleRequest(req *jsonrpc.Request) {
	ctx := context.Background()

	if !p.isInitialized.Load() && req.Method != "initialize" {
		p.reply(ctx, req.ID, nil, jsonrpc.ErrInvalidRequest("not initialized"))
		return
	}

	p.mu.Lock()
	h, ok := p.requestHandlers[req.Method]
	p.mu.Unlock()
	if !ok {
		p.reply(ctx, req.ID, nil, jsonrpc.ErrMethodNotFound(req.Method))
		return
	}

	cancelCh := make(chan struct{})
	key := req.ID.String()
	p.mu.Lock()
	p.inflight[key] = cancelCh
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.inflight, key)
		p.mu.Unlock()
	}()

	extra := &RequestExtra{RequestID: req.ID, Done: cancelCh, proto: p}
	ctx = withRequestID(ctx, req.ID)

	result, err := func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = jsonrpc.ErrInternal(fmt.Sprintf("handler panic: %v", r))
			}
		}()
		return h(ctx, extra, req.Params)
	}()

	if err != nil {
		p.reply(ctx, req.ID, nil, toWireError(err))
		return
	}
	p.reply(ctx, req.ID, result, nil)
}

func toWireError(err error) *jsonrpc.Error {
	if werr, ok := err.(*jsonrpc.Error); ok {
		return werr
	}
	return jsonrpc.ErrInternal(err.Error())
}

func (p *Protocol) reply(ctx context.Context, id jsonrpc.ID, result any, wireErr *jsonrpc.Error) {
	resp := &jsonrpc.Response{ID: id}
	if wireErr != nil {
		resp.Error = wireErr
	} else {
		raw, err := marshalParams(result)
		if err != nil {
			resp.Error = jsonrpc.ErrInternal(err.Error())
		} else {
			resp.Result = raw
		}
	}
	if err := p.transport.Send(ctx, resp); err != nil {
		logger.Error("protocol: failed to send response for %v: %v", id.Raw(), err)
	}
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

type progressTokenKey struct{}

// WithProgressToken attaches a progress token to the context passed into
// Request, so the caller can receive progress notifications for that call.
func WithProgressToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, progressTokenKey{}, token)
}

func progressTokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(progressTokenKey{}).(string)
	return tok, ok
}
