// Package jsonrpc implements the closed JSON-RPC 2.0 envelope used to carry
// MCP messages: requests, success/error responses, and notifications.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC version this module speaks.
const Version = "2.0"

// ID is a JSON-RPC request identifier: a string or a non-negative integer.
// Never null on the wire for MCP.
type ID struct {
	str      string
	num      int64
	isString bool
	valid    bool
}

// StringID builds a string-valued request ID.
func StringID(s string) ID { return ID{str: s, isString: true, valid: true} }

// IntID builds an integer-valued request ID.
func IntID(n int64) ID { return ID{num: n, valid: true} }

// IsValid reports whether the ID was actually set (as opposed to the zero value).
func (id ID) IsValid() bool { return id.valid }

// IsString reports whether the ID holds a string value.
func (id ID) IsString() bool { return id.valid && id.isString }

// String returns the string form of the ID, for use as a map key.
func (id ID) String() string {
	if !id.valid {
		return ""
	}
	if id.isString {
		return "s:" + id.str
	}
	return fmt.Sprintf("n:%d", id.num)
}

// Raw returns the underlying string or int64 value, whichever is set.
func (id ID) Raw() any {
	if id.isString {
		return id.str
	}
	return id.num
}

func (id ID) MarshalJSON() ([]byte, error) {
	if !id.valid {
		return []byte("null"), nil
	}
	if id.isString {
		return json.Marshal(id.str)
	}
	return json.Marshal(id.num)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ID{}
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = IntID(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("jsonrpc: id must be a string or integer: %w", err)
	}
	*id = StringID(s)
	return nil
}

// Meta is the free-form `_meta` bag carried by params and results.
type Meta map[string]any

// ProgressToken reads the reserved progressToken key, if present.
func (m Meta) ProgressToken() (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m["progressToken"]
	return v, ok
}

// Request is an outbound or inbound JSON-RPC request (expects a reply).
type Request struct {
	ID     ID              `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Notification is a JSON-RPC request with no ID: fire-and-forget.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC success or error response.
type Response struct {
	ID     ID              `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// IsError reports whether this response carries an error payload.
func (r *Response) IsError() bool { return r.Error != nil }

// Error is the JSON-RPC error object. It doubles as the Go `error` type for
// wire-level failures so that handler code can return it directly.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Envelope is the wire shape shared by all four message kinds, used only as
// an intermediate decode target to discriminate which kind a blob is.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Message is any of *Request, *Notification, *Response.
type Message interface {
	isMessage()
}

func (*Request) isMessage()      {}
func (*Notification) isMessage() {}
func (*Response) isMessage()     {}

// Encode serializes a Message to its closed wire representation.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Request:
		return json.Marshal(struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      ID              `json:"id"`
			Method  string          `json:"method"`
			Params  json.RawMessage `json:"params,omitempty"`
		}{Version, m.ID, m.Method, m.Params})
	case *Notification:
		return json.Marshal(struct {
			JSONRPC string          `json:"jsonrpc"`
			Method  string          `json:"method"`
			Params  json.RawMessage `json:"params,omitempty"`
		}{Version, m.Method, m.Params})
	case *Response:
		return json.Marshal(struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      ID              `json:"id"`
			Result  json.RawMessage `json:"result,omitempty"`
			Error   *Error          `json:"error,omitempty"`
		}{Version, m.ID, m.Result, m.Error})
	default:
		return nil, fmt.Errorf("jsonrpc: unknown message type %T", msg)
	}
}

// Decode parses a single wire message into one of *Request, *Notification, *Response.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("jsonrpc: malformed message: %w", err)
	}
	if env.JSONRPC != Version {
		return nil, fmt.Errorf("jsonrpc: unsupported jsonrpc version %q", env.JSONRPC)
	}
	switch {
	case env.Result != nil || env.Error != nil:
		if env.ID == nil {
			return nil, fmt.Errorf("jsonrpc: response missing id")
		}
		return &Response{ID: *env.ID, Result: env.Result, Error: env.Error}, nil
	case env.Method != "" && env.ID != nil:
		return &Request{ID: *env.ID, Method: env.Method, Params: env.Params}, nil
	case env.Method != "":
		return &Notification{Method: env.Method, Params: env.Params}, nil
	default:
		return nil, fmt.Errorf("jsonrpc: message is neither request, response, nor notification")
	}
}
