package jsonrpc

// Standard and MCP-reserved error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Local-only codes: manufactured by this module, never expected from a peer.
	CodeConnectionClosed = -32000
	CodeRequestTimeout    = -32001
)

// NewError builds a wire Error with the given code/message.
func NewError(code int, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

func ErrMethodNotFound(method string) *Error {
	return NewError(CodeMethodNotFound, "method not found: "+method, nil)
}

func ErrInvalidParams(msg string) *Error {
	return NewError(CodeInvalidParams, msg, nil)
}

func ErrInvalidRequest(msg string) *Error {
	return NewError(CodeInvalidRequest, msg, nil)
}

func ErrInternal(msg string) *Error {
	return NewError(CodeInternalError, msg, nil)
}

func ErrConnectionClosed() *Error {
	return NewError(CodeConnectionClosed, "connection closed", nil)
}

func ErrRequestTimeout() *Error {
	return NewError(CodeRequestTimeout, "request timed out", nil)
}
