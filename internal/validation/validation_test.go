package validation

import (
	"encoding/json"
	"testing"
)

type widgetParams struct {
	Name  string `json:"name"`
	Count int    `json:"count,omitempty"`
}

func TestGenerateSchemaAndValidate(t *testing.T) {
	schema, err := GenerateSchema[widgetParams]()
	if err != nil {
		t.Fatalf("GenerateSchema: %v", err)
	}

	var v Validator = Default{}
	if err := v.Validate(schema, json.RawMessage(`{"name":"gizmo","count":3}`)); err != nil {
		t.Errorf("expected valid instance to pass: %v", err)
	}
}

func TestValidateRejectsWrongType(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"count":{"type":"integer"}},"required":["count"]}`)
	var v Validator = Default{}
	if err := v.Validate(schema, json.RawMessage(`{"count":"not-a-number"}`)); err == nil {
		t.Error("expected validation error for wrong type")
	}
}

func TestEmptySchemaAlwaysPasses(t *testing.T) {
	var v Validator = Default{}
	if err := v.Validate(nil, json.RawMessage(`{"anything":true}`)); err != nil {
		t.Errorf("nil schema should not reject: %v", err)
	}
}
