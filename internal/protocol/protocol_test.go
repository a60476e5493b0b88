package protocol

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
	"github.com/HyphaGroup/oubliette/internal/transport"
)

func connectedPair(t *testing.T) (*Protocol, *Protocol) {
	t.Helper()
	ta, tb := transport.InMemoryPair()
	pa := New(Options{})
	pb := New(Options{})
	pa.SetInitialized()
	pb.SetInitialized()
	if err := pa.Connect(context.Background(), ta); err != nil {
		t.Fatalf("connect a: %v", err)
	}
	if err := pb.Connect(context.Background(), tb); err != nil {
		t.Fatalf("connect b: %v", err)
	}
	return pa, pb
}

func TestRequestResponseRoundTrip(t *testing.T) {
	pa, pb := connectedPair(t)
	defer pa.Close()
	defer pb.Close()

	pb.SetRequestHandler("echo", func(ctx context.Context, extra *RequestExtra, params json.RawMessage) (any, error) {
		var p map[string]string
		_ = json.Unmarshal(params, &p)
		return map[string]string{"echoed": p["msg"]}, nil
	})

	raw, err := pa.Request(context.Background(), "echo", map[string]string{"msg": "hi"}, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var res map[string]string
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res["echoed"] != "hi" {
		t.Errorf("got %q, want %q", res["echoed"], "hi")
	}
}

func TestMethodNotFound(t *testing.T) {
	pa, pb := connectedPair(t)
	defer pa.Close()
	defer pb.Close()

	_, err := pa.Request(context.Background(), "nonexistent", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	werr, ok := err.(*jsonrpc.Error)
	if !ok || werr.Code != jsonrpc.CodeMethodNotFound {
		t.Errorf("got %v, want MethodNotFound", err)
	}
}

func TestHandlerErrorBecomesInternalError(t *testing.T) {
	pa, pb := connectedPair(t)
	defer pa.Close()
	defer pb.Close()

	pb.SetRequestHandler("boom", func(ctx context.Context, extra *RequestExtra, params json.RawMessage) (any, error) {
		return nil, errPlain("kaboom")
	})

	_, err := pa.Request(context.Background(), "boom", nil, nil)
	werr, ok := err.(*jsonrpc.Error)
	if !ok || werr.Code != jsonrpc.CodeInternalError {
		t.Errorf("got %v, want InternalError", err)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }

func TestTimeout(t *testing.T) {
	pa, pb := connectedPair(t)
	defer pa.Close()
	defer pb.Close()

	block := make(chan struct{})
	pb.SetRequestHandler("slow", func(ctx context.Context, extra *RequestExtra, params json.RawMessage) (any, error) {
		<-block
		return nil, nil
	})
	defer close(block)

	_, err := pa.Request(context.Background(), "slow", nil, &RequestOptions{Timeout: 10 * time.Millisecond})
	werr, ok := err.(*jsonrpc.Error)
	if !ok || werr.Code != jsonrpc.CodeRequestTimeout {
		t.Errorf("got %v, want RequestTimeout", err)
	}
}

func TestClosePendingGetsConnectionClosed(t *testing.T) {
	pa, pb := connectedPair(t)
	defer pb.Close()

	block := make(chan struct{})
	pb.SetRequestHandler("slow", func(ctx context.Context, extra *RequestExtra, params json.RawMessage) (any, error) {
		<-block
		return nil, nil
	})
	defer close(block)

	errCh := make(chan error, 1)
	go func() {
		_, err := pa.Request(context.Background(), "slow", nil, nil)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	pa.Close()

	select {
	case err := <-errCh:
		werr, ok := err.(*jsonrpc.Error)
		if !ok || werr.Code != jsonrpc.CodeConnectionClosed {
			t.Errorf("got %v, want ConnectionClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close to fail pending request")
	}
}

func TestPreInitRequestRejected(t *testing.T) {
	ta, tb := transport.InMemoryPair()
	pa := New(Options{})
	pb := New(Options{})
	// Neither marked initialized.
	if err := pa.Connect(context.Background(), ta); err != nil {
		t.Fatal(err)
	}
	if err := pb.Connect(context.Background(), tb); err != nil {
		t.Fatal(err)
	}
	defer pa.Close()
	defer pb.Close()

	_, err := pa.Request(context.Background(), "tools/list", nil, nil)
	if err == nil {
		t.Fatal("expected rejection before initialization")
	}
}

func TestCancellationLiveness(t *testing.T) {
	pa, pb := connectedPair(t)
	defer pa.Close()
	defer pb.Close()

	observed := make(chan bool, 1)
	pb.SetRequestHandler("cancellable", func(ctx context.Context, extra *RequestExtra, params json.RawMessage) (any, error) {
		select {
		case <-extra.Done:
			observed <- true
		case <-time.After(2 * time.Second):
			observed <- false
		}
		return map[string]string{}, nil
	})

	id := jsonrpc.IntID(0) // allocated internally; we trigger cancel via Protocol.Cancel using the same counter start
	go func() {
		time.Sleep(20 * time.Millisecond)
		pa.Cancel(context.Background(), id, "client gave up")
	}()

	_, _ = pa.Request(context.Background(), "cancellable", nil, nil)
	if !<-observed {
		t.Error("handler did not observe cancellation signal")
	}
}
