package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// FrameValidator checks rows against the provider's row schema. A nil
// validator accepts any JSON object.
type FrameValidator struct {
	schema *jsonschema.Schema
}

// -----------------------------------------------------------------------------

// NewFrameValidator compiles schema. A nil schema yields a nil validator.
func NewFrameValidator(schema map[string]any) (*FrameValidator, error) {
	if schema == nil {
		return nil, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("row schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("row schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("row.json", doc); err != nil {
		return nil, fmt.Errorf("row schema: %w", err)
	}
	sch, err := c.Compile("row.json")
	if err != nil {
		return nil, fmt.Errorf("row schema: %w", err)
	}
	return &FrameValidator{schema: sch}, nil
}

// -----------------------------------------------------------------------------

// Validate returns an error when row is not valid JSON or fails the schema.
func (v *FrameValidator) Validate(row []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(row))
	if err != nil {
		return fmt.Errorf("row is not JSON: %w", err)
	}
	if v == nil {
		if _, ok := inst.(map[string]any); !ok {
			return fmt.Errorf("row is not an object")
		}
		return nil
	}
	return v.schema.Validate(inst)
}
