package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HyphaGroup/oubliette/internal/mcptypes"
)

// ElicitUserInput asks the peer to collect structured input matching schema,
// in form mode. Requires the
// client to have advertised the elicitation capability; gated by
// capabilityGate before the request ever reaches the transport.
func (sess *ServerSession) ElicitUserInput(ctx context.Context, message string, schema map[string]any) (*mcptypes.ElicitResult, error) {
	raw, err := sess.proto.Request(ctx, mcptypes.MethodElicitationCreate, &mcptypes.ElicitParams{
		Message: message,
		Schema:  schema,
	}, nil)
	if err != nil {
		return nil, err
	}
	var result mcptypes.ElicitResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpserver: malformed elicitation/create result: %w", err)
	}
	return &result, nil
}

// ElicitUserInputViaURL asks the peer to navigate the user to url, in URL
// mode. The returned ElicitResult is the peer's elicitation/create response;
// a notifications/elicitation/complete for elicitationID is neither awaited
// nor consulted.
func (sess *ServerSession) ElicitUserInputViaURL(ctx context.Context, message, url, elicitationID string) (*mcptypes.ElicitResult, error) {
	raw, err := sess.proto.Request(ctx, mcptypes.MethodElicitationCreate, &mcptypes.ElicitParams{
		Message:       message,
		Mode:          "url",
		URL:           url,
		ElicitationID: elicitationID,
	}, nil)
	if err != nil {
		return nil, err
	}
	var result mcptypes.ElicitResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpserver: malformed elicitation/create result: %w", err)
	}
	return &result, nil
}

// CreateSamplingMessage asks the peer to run an LLM completion on the
// server's behalf. Requires the client to have advertised
// the sampling capability.
func (sess *ServerSession) CreateSamplingMessage(ctx context.Context, messages []mcptypes.SamplingMessage, maxTokens int, opts *mcptypes.CreateMessageParams) (*mcptypes.CreateMessageResult, error) {
	params := &mcptypes.CreateMessageParams{Messages: messages, MaxTokens: maxTokens}
	if opts != nil {
		params.SystemPrompt = opts.SystemPrompt
		params.ModelPreferences = opts.ModelPreferences
		params.StopSequences = opts.StopSequences
		params.Temperature = opts.Temperature
	}
	raw, err := sess.proto.Request(ctx, mcptypes.MethodSamplingCreateMessage, params, nil)
	if err != nil {
		return nil, err
	}
	var result mcptypes.CreateMessageResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpserver: malformed sampling/createMessage result: %w", err)
	}
	return &result, nil
}
