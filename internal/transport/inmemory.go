package transport

import (
	"context"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
)

// InMemoryPair returns two connected Transports piping messages directly to
// each other, for use in protocol/client/server tests without real sockets.
func InMemoryPair() (a, b Transport) {
	ab := make(chan jsonrpc.Message, 64)
	ba := make(chan jsonrpc.Message, 64)
	ta := &inMemoryTransport{send: ab, recv: ba}
	tb := &inMemoryTransport{send: ba, recv: ab}
	return ta, tb
}

type inMemoryTransport struct {
	send chan jsonrpc.Message
	recv chan jsonrpc.Message
	done chan struct{}

	onMessage func(jsonrpc.Message)
	onError   func(error)
	onClose   func()
}

func (t *inMemoryTransport) SetCallbacks(onMessage func(jsonrpc.Message), onError func(error), onClose func()) {
	t.onMessage, t.onError, t.onClose = onMessage, onError, onClose
}

func (t *inMemoryTransport) Start(ctx context.Context) error {
	t.done = make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-t.recv:
				if !ok {
					if t.onClose != nil {
						t.onClose()
					}
					return
				}
				if t.onMessage != nil {
					t.onMessage(msg)
				}
			case <-t.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (t *inMemoryTransport) Send(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case t.send <- msg:
		return nil
	case <-t.done:
		return context.Canceled
	}
}

func (t *inMemoryTransport) Close() error {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	return nil
}
