package mcpserver

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
	"github.com/HyphaGroup/oubliette/internal/protocol"
	"github.com/HyphaGroup/oubliette/internal/uritemplate"
)

type registeredTemplate struct {
	template *mcptypes.ResourceTemplate
	tmpl     *uritemplate.Template
	handler  func(ctx context.Context, uri string, vars map[string]string) (*mcptypes.ReadResourceResult, error)
}

// RegisterResource adds a fixed-URI resource.
func RegisterResource(srv *Server, resource *mcptypes.Resource, handler func(ctx context.Context, uri string) (*mcptypes.ReadResourceResult, error)) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if _, exists := srv.resources[resource.URI]; !exists {
		srv.resourceOrder = append(srv.resourceOrder, resource.URI)
	}
	srv.resources[resource.URI] = &registeredResource{resource: resource, handler: handler}
}

// RegisterResourceTemplate adds a URI-template-matched resource family.
func RegisterResourceTemplate(srv *Server, tmpl *mcptypes.ResourceTemplate, handler func(ctx context.Context, uri string, vars map[string]string) (*mcptypes.ReadResourceResult, error)) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.templates = append(srv.templates, &registeredTemplate{
		template: tmpl,
		tmpl:     uritemplate.Parse(tmpl.URITemplate),
		handler:  handler,
	})
}

// NotifyResourceUpdated publishes notifications/resources/updated to every
// session currently subscribed to uri.
func (srv *Server) NotifyResourceUpdated(ctx context.Context, uri string) {
	srv.mu.RLock()
	subs := srv.subscriptions[uri]
	sessions := make([]*ServerSession, 0, len(subs))
	for s := range subs {
		sessions = append(sessions, s)
	}
	srv.mu.RUnlock()
	for _, s := range sessions {
		_ = s.proto.Notify(ctx, mcptypes.NotificationResourcesUpdated, &mcptypes.ResourceUpdatedParams{URI: uri})
	}
}

func (srv *Server) installResourceHandlers(sess *ServerSession) {
	p := sess.proto

	_ = p.SetRequestHandler(mcptypes.MethodResourcesList, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		srv.mu.RLock()
		defer srv.mu.RUnlock()
		uris := append([]string(nil), srv.resourceOrder...)
		sort.Strings(uris)
		out := make([]*mcptypes.Resource, 0, len(uris))
		for _, u := range uris {
			out = append(out, srv.resources[u].resource)
		}
		return &mcptypes.ListResourcesResult{Resources: out}, nil
	})

	_ = p.SetRequestHandler(mcptypes.MethodResourceTemplatesList, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		srv.mu.RLock()
		defer srv.mu.RUnlock()
		out := make([]*mcptypes.ResourceTemplate, 0, len(srv.templates))
		for _, t := range srv.templates {
			out = append(out, t.template)
		}
		return &mcptypes.ListResourceTemplatesResult{ResourceTemplates: out}, nil
	})

	_ = p.SetRequestHandler(mcptypes.MethodResourcesRead, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		var params mcptypes.ReadResourceParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, jsonrpc.ErrInvalidParams("malformed resources/read params")
		}
		srv.mu.RLock()
		rr, ok := srv.resources[params.URI]
		srv.mu.RUnlock()
		if ok {
			return rr.handler(ctx, params.URI)
		}

		srv.mu.RLock()
		templates := append([]*registeredTemplate(nil), srv.templates...)
		srv.mu.RUnlock()
		for _, t := range templates {
			if vars, matched := t.tmpl.Match(params.URI); matched {
				return t.handler(ctx, params.URI, vars)
			}
		}
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "unknown resource: "+params.URI, nil)
	})

	_ = p.SetRequestHandler(mcptypes.MethodResourcesSubscribe, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		var params mcptypes.SubscribeParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, jsonrpc.ErrInvalidParams("malformed resources/subscribe params")
		}
		srv.mu.Lock()
		if srv.subscriptions[params.URI] == nil {
			srv.subscriptions[params.URI] = make(map[*ServerSession]struct{})
		}
		srv.subscriptions[params.URI][sess] = struct{}{}
		srv.mu.Unlock()
		return map[string]any{}, nil
	})

	_ = p.SetRequestHandler(mcptypes.MethodResourcesUnsubscribe, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		var params mcptypes.UnsubscribeParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, jsonrpc.ErrInvalidParams("malformed resources/unsubscribe params")
		}
		srv.mu.Lock()
		delete(srv.subscriptions[params.URI], sess)
		srv.mu.Unlock()
		return map[string]any{}, nil
	})
}

// dropSession removes every subscription held by sess, called on disconnect.
func (srv *Server) dropSession(sess *ServerSession) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for uri, subs := range srv.subscriptions {
		delete(subs, sess)
		if len(subs) == 0 {
			delete(srv.subscriptions, uri)
		}
	}
}
