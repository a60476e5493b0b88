package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/HyphaGroup/oubliette/internal/jsonrpc"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
	"github.com/HyphaGroup/oubliette/internal/protocol"
)

// installLoggingHandler wires logging/setLevel and exposes LogTo so server
// code can emit notifications/message filtered by the session's current
// minimum level.
func (srv *Server) installLoggingHandler(sess *ServerSession) {
	p := sess.proto

	_ = p.SetRequestHandler(mcptypes.MethodLoggingSetLevel, func(ctx context.Context, extra *protocol.RequestExtra, raw json.RawMessage) (any, error) {
		var params mcptypes.SetLevelParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, jsonrpc.ErrInvalidParams("malformed logging/setLevel params")
		}
		sess.logMu.Lock()
		sess.logLevel = params.Level
		sess.logMu.Unlock()
		return map[string]any{}, nil
	})
}

// LogTo emits notifications/message to sess if level meets or exceeds the
// session's current minimum (set via logging/setLevel, default "info").
func (sess *ServerSession) LogTo(ctx context.Context, level mcptypes.LoggingLevel, logger string, data any) {
	sess.logMu.Lock()
	min := sess.logLevel
	sess.logMu.Unlock()
	if !min.Enabled(level) {
		return
	}
	_ = sess.proto.Notify(ctx, mcptypes.NotificationMessage, &mcptypes.LoggingMessageParams{
		Level:  level,
		Logger: logger,
		Data:   data,
	})
}
