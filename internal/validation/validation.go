// Package validation defines the pluggable JSON Schema validator collaborator
// and a default implementation backed by jsonschema-go.
package validation

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validator checks a JSON instance against a JSON Schema document.
type Validator interface {
	Validate(schema json.RawMessage, instance json.RawMessage) error
}

// Default is the jsonschema-go-backed Validator used unless a host supplies
// its own.
type Default struct{}

func (Default) Validate(schema json.RawMessage, instance json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(schema, &s); err != nil {
		return fmt.Errorf("validation: malformed schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return fmt.Errorf("validation: failed to resolve schema: %w", err)
	}
	var v any
	if len(instance) > 0 {
		if err := json.Unmarshal(instance, &v); err != nil {
			return fmt.Errorf("validation: malformed instance: %w", err)
		}
	}
	if err := resolved.Validate(v); err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	return nil
}

// GenerateSchema derives a JSON Schema document for Go type P, used to
// auto-populate a registered tool's inputSchema when the caller doesn't
// supply one explicitly.
func GenerateSchema[P any]() (json.RawMessage, error) {
	schema, err := jsonschema.For[P](nil)
	if err != nil {
		return nil, fmt.Errorf("validation: generating schema: %w", err)
	}
	return json.Marshal(schema)
}
