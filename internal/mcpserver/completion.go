package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
	"github.com/HyphaGroup/oubliette/internal/protocol"
)

// RegisterCompletion installs a completer for prompt or resource-template
// argument autocompletion, keyed by "ref/prompt:<name>" or "ref/resource:<uri>".
func RegisterCompletion(srv *Server, refKey string, fn func(ctx context.Context, arg mcptypes.CompletionArgument) (*mcptypes.Completion, error)) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.completers[refKey] = fn
}

func completionKey(ref mcptypes.CompletionReference) string {
	switch ref.Type {
	case "ref/prompt":
		return "ref/prompt:" + ref.Name
	case "ref/resource":
		return "ref/resource:" + ref.URI
	default:
		return ""
	}
}

func (srv *Server) installCompletionHandler(sess *ServerSession) {
	p := sess.proto

	_ = p.SetRequestHandler(mcptypes.MethodCompletionComplete, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		var params mcptypes.CompleteParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, jsonrpc.ErrInvalidParams("malformed completion/complete params")
		}
		srv.mu.RLock()
		fn, ok := srv.completers[completionKey(params.Ref)]
		srv.mu.RUnlock()
		if !ok {
			return &mcptypes.CompleteResult{Completion: mcptypes.Completion{Values: nil}}, nil
		}
		completion, err := fn(ctx, params.Argument)
		if err != nil {
			return nil, err
		}
		if len(completion.Values) > mcptypes.MaxCompletionValues {
			completion.HasMore = true
			completion.Values = completion.Values[:mcptypes.MaxCompletionValues]
		}
		return &mcptypes.CompleteResult{Completion: *completion}, nil
	})
}
