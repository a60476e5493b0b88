package mcpserver

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
	"github.com/HyphaGroup/oubliette/internal/protocol"
)

// RegisterPrompt adds a named prompt template to srv's registry.
func RegisterPrompt(srv *Server, prompt *mcptypes.Prompt, handler func(ctx context.Context, args map[string]string) (*mcptypes.GetPromptResult, error)) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if _, exists := srv.prompts[prompt.Name]; !exists {
		srv.promptOrder = append(srv.promptOrder, prompt.Name)
	}
	srv.prompts[prompt.Name] = &registeredPrompt{prompt: prompt, handler: handler}
}

func (srv *Server) installPromptHandlers(sess *ServerSession) {
	p := sess.proto

	_ = p.SetRequestHandler(mcptypes.MethodPromptsList, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		srv.mu.RLock()
		defer srv.mu.RUnlock()
		names := append([]string(nil), srv.promptOrder...)
		sort.Strings(names)
		out := make([]*mcptypes.Prompt, 0, len(names))
		for _, n := range names {
			out = append(out, srv.prompts[n].prompt)
		}
		return &mcptypes.ListPromptsResult{Prompts: out}, nil
	})

	_ = p.SetRequestHandler(mcptypes.MethodPromptsGet, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		var params mcptypes.GetPromptParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, jsonrpc.ErrInvalidParams("malformed prompts/get params")
		}
		srv.mu.RLock()
		rp, ok := srv.prompts[params.Name]
		srv.mu.RUnlock()
		if !ok {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "unknown prompt: "+params.Name, nil)
		}
		for _, arg := range rp.prompt.Arguments {
			if arg.Required {
				if _, present := params.Arguments[arg.Name]; !present {
					return nil, jsonrpc.ErrInvalidParams("missing required argument: " + arg.Name)
				}
			}
		}
		return rp.handler(ctx, params.Arguments)
	})
}
