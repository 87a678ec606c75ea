package steward

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compileSchema compiles a tool's JSON Schema once at registration. A nil
// schema means the tool accepts any input.
func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	const url = "mem://tool/schema.json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

// validateInput checks a tool call's input against its compiled schema and
// returns a user-facing problem list on failure.
func validateInput(schema *jsonschema.Schema, input json.RawMessage) error {
	if schema == nil {
		return nil
	}
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(input))
	if err != nil {
		return fmt.Errorf("input is not valid JSON: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		// The validator's message already lists the failing locations.
		return fmt.Errorf("%s", strings.TrimSpace(err.Error()))
	}
	return nil
}
