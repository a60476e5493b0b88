package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestRoundTripRequest(t *testing.T) {
	req := &Request{ID: IntID(7), Method: "tools/call", Params: json.RawMessage(`{"name":"echo"}`)}
	data, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := msg.(*Request)
	if !ok {
		t.Fatalf("Decode returned %T, want *Request", msg)
	}
	if got.Method != req.Method || got.ID.String() != req.ID.String() {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, req)
	}
}

func TestRoundTripNotification(t *testing.T) {
	n := &Notification{Method: "notifications/initialized"}
	data, err := Encode(n)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := msg.(*Notification)
	if !ok {
		t.Fatalf("Decode returned %T, want *Notification", msg)
	}
	if got.Method != n.Method {
		t.Errorf("got method %q, want %q", got.Method, n.Method)
	}
}

func TestRoundTripResponseError(t *testing.T) {
	resp := &Response{ID: StringID("abc"), Error: NewError(CodeInvalidParams, "bad", nil)}
	data, err := Encode(resp)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := msg.(*Response)
	if !ok {
		t.Fatalf("Decode returned %T, want *Response", msg)
	}
	if !got.IsError() || got.Error.Code != CodeInvalidParams {
		t.Errorf("got %+v, want error code %d", got, CodeInvalidParams)
	}
}

func TestIDNeverNull(t *testing.T) {
	id := IntID(0)
	data, _ := json.Marshal(id)
	if string(data) == "null" {
		t.Error("zero-valued IntID must not marshal to null")
	}
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	_, err := Decode([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	if err == nil {
		t.Error("expected error for wrong jsonrpc version")
	}
}
