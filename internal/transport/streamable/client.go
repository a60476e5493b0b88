package streamable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
)

// ClientTransportOptions configures StreamableClientTransport's HTTP client
// and retry behavior.
type ClientTransportOptions struct {
	// HTTPClient is used for all requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// MaxRetries bounds retry attempts for a send or a hanging GET. Zero
	// means no retries beyond the initial attempt.
	MaxRetries int
	// InitialBackoff is the delay before the first retry; later attempts
	// double it, capped at 30s. Defaults to one second.
	InitialBackoff time.Duration
}

// StreamableClientTransport implements transport.Transport against a
// Streamable HTTP Transport server. Outbound messages are
// POSTed; inbound messages arrive either as the POST's own response body or
// over a persistent hanging-GET SSE stream that resumes via Last-Event-ID
// after any drop.
type StreamableClientTransport struct {
	url  string
	opts ClientTransportOptions

	client *http.Client

	sessionID atomic.Value // string

	mu               sync.Mutex
	lastEventID      string
	cancelHangingGet context.CancelFunc
	closeErr         error

	pending chan jsonrpc.Message
	done    chan struct{}
	closeOnce sync.Once

	randSrc *rand.Rand

	onMessage func(jsonrpc.Message)
	onError   func(error)
	onClose   func()
}

// NewStreamableClientTransport returns a client transport that connects to
// the streamable HTTP endpoint at url.
func NewStreamableClientTransport(url string, opts ClientTransportOptions) *StreamableClientTransport {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = time.Second
	}
	t := &StreamableClientTransport{
		url:     url,
		opts:    opts,
		client:  opts.HTTPClient,
		pending: make(chan jsonrpc.Message, 100),
		done:    make(chan struct{}),
		randSrc: rand.New(rand.NewSource(1)),
	}
	t.sessionID.Store("")
	return t
}

func (t *StreamableClientTransport) SetCallbacks(onMessage func(jsonrpc.Message), onError func(error), onClose func()) {
	t.onMessage, t.onError, t.onClose = onMessage, onError, onClose
}

// Start launches the background writer and the persistent event receiver.
func (t *StreamableClientTransport) Start(ctx context.Context) error {
	go t.writeLoop()
	go t.receiveLoop()
	return nil
}

// Send enqueues msg for delivery by the background writer.
func (t *StreamableClientTransport) Send(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return fmt.Errorf("streamable: transport closed")
	case t.pending <- msg:
		return nil
	}
}

func (t *StreamableClientTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		if t.cancelHangingGet != nil {
			t.cancelHangingGet()
		}
		sessionID, _ := t.sessionID.Load().(string)
		t.mu.Unlock()

		if sessionID != "" {
			req, err := http.NewRequest(http.MethodDelete, t.url, nil)
			if err == nil {
				req.Header.Set(sessionHeader, sessionID)
				_, _ = t.client.Do(req)
			}
		}
		if t.onClose != nil {
			t.onClose()
		}
	})
	return t.closeErr
}

func (t *StreamableClientTransport) fail(err error) {
	t.mu.Lock()
	t.closeErr = err
	t.mu.Unlock()
	if t.onError != nil {
		t.onError(err)
	}
	_ = t.Close()
}

func (t *StreamableClientTransport) writeLoop() {
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.pending:
			t.sendWithRetry(msg)
		}
	}
}

func (t *StreamableClientTransport) sendWithRetry(msg jsonrpc.Message) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= t.opts.MaxRetries; attempt++ {
		select {
		case <-t.done:
			return
		default:
		}

		newSessionID, err := t.postMessage(ctx, msg)
		if err == nil {
			if sid, _ := t.sessionID.Load().(string); sid == "" && newSessionID != "" {
				t.sessionID.Store(newSessionID)
			}
			return
		}
		lastErr = err
		if !isRetryable(err) || attempt == t.opts.MaxRetries {
			break
		}

		backoff := t.opts.InitialBackoff * time.Duration(1<<uint(attempt))
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
		jitter := time.Duration(t.randSrc.Int63n(int64(backoff/2) + 1))
		select {
		case <-t.done:
			return
		case <-time.After(backoff + jitter):
		}
	}
	t.fail(fmt.Errorf("streamable: sending message after %d retries: %w", t.opts.MaxRetries, lastErr))
}

// postMessage sends one message via POST and returns the session ID the
// server assigned (or reaffirmed). If the server answers immediately with a
// JSON body, it is delivered to onMessage directly; if it answers with an
// event stream, consumeSSE takes over reading it.
func (t *StreamableClientTransport) postMessage(ctx context.Context, msg jsonrpc.Message) (string, error) {
	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return "", fmt.Errorf("encoding outgoing message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("building POST request: %w", err)
	}
	if sid, _ := t.sessionID.Load().(string); sid != "" {
		req.Header.Set(sessionHeader, sid)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("POST request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return "", &httpStatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))}
	}

	newSessionID := resp.Header.Get(sessionHeader)

	switch ct := resp.Header.Get("Content-Type"); {
	case strings.HasPrefix(ct, "text/event-stream"):
		go t.consumeSSE(resp)
	case strings.HasPrefix(ct, "application/json"):
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("reading response body: %w", err)
		}
		if len(body) > 0 {
			reply, err := jsonrpc.Decode(body)
			if err != nil {
				return "", fmt.Errorf("decoding response body: %w", err)
			}
			if t.onMessage != nil {
				t.onMessage(reply)
			}
		}
	default:
		resp.Body.Close()
	}

	return newSessionID, nil
}

// receiveLoop maintains the standalone hanging GET stream, reconnecting with
// backoff and resuming from the last delivered event on every drop.
func (t *StreamableClientTransport) receiveLoop() {
	backoff := t.opts.InitialBackoff
	retries := 0

	for {
		select {
		case <-t.done:
			return
		default:
		}

		sessionID, _ := t.sessionID.Load().(string)
		if sessionID == "" {
			select {
			case <-t.done:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		t.mu.Lock()
		t.cancelHangingGet = cancel
		lastEventID := t.lastEventID
		t.mu.Unlock()

		err := t.hangingGet(ctx, sessionID, lastEventID)

		t.mu.Lock()
		t.cancelHangingGet = nil
		t.mu.Unlock()
		cancel()

		if err == nil {
			retries = 0
			backoff = t.opts.InitialBackoff
			continue
		}

		if retries >= t.opts.MaxRetries {
			t.fail(fmt.Errorf("streamable: maintaining event stream after %d retries: %w", t.opts.MaxRetries, err))
			return
		}

		jitter := time.Duration(t.randSrc.Int63n(int64(backoff/2) + 1))
		select {
		case <-t.done:
			return
		case <-time.After(backoff + jitter):
		}
		retries++
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (t *StreamableClientTransport) hangingGet(ctx context.Context, sessionID, lastEventID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return fmt.Errorf("building GET request: %w", err)
	}
	req.Header.Set(sessionHeader, sessionID)
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return &httpStatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))}
	}
	return t.consumeSSE(resp)
}

func (t *StreamableClientTransport) consumeSSE(resp *http.Response) error {
	defer resp.Body.Close()
	for evt, err := range scanEvents(resp.Body) {
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("scanning event stream: %w", err)
		}
		if evt.id != "" {
			t.mu.Lock()
			t.lastEventID = evt.id
			t.mu.Unlock()
		}
		msg, err := jsonrpc.Decode(evt.data)
		if err != nil {
			if t.onError != nil {
				t.onError(fmt.Errorf("decoding event payload: %w", err))
			}
			continue
		}
		if t.onMessage != nil {
			t.onMessage(msg)
		}
	}
	return nil
}

// isRetryable reports whether err is a transient condition worth retrying:
// request timeouts, rate limiting, and server-side 5xx, plus network
// timeouts. Context cancellation is never retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *httpStatusError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusRequestTimeout,
			http.StatusTooEarly,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	if netErr, ok := err.(net.Error); ok {
		return netErr.Timeout()
	}
	return false
}

// httpStatusError wraps a non-2xx HTTP response so callers can branch on
// the status code without parsing the error string.
type httpStatusError struct {
	StatusCode int
	Err        error
}

func (e *httpStatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("http status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

func (e *httpStatusError) Unwrap() error { return e.Err }
