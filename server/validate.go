package server

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hupe1980/toolmesh/protocol"
)

// compileInputSchema compiles a tool's declared input schema. A nil or empty
// schema compiles to an accept-everything object schema.
func compileInputSchema(def protocol.Tool) (*jsonschema.Schema, error) {
	schema := def.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	compiled, err := jsonschema.CompileString(def.Name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return compiled, nil
}

// validateArguments checks args against the compiled schema. Arguments are
// round-tripped through encoding/json first so Go-native values (ints,
// structs) validate the same way wire-decoded values do.
func validateArguments(schema *jsonschema.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}

	return schema.Validate(decoded)
}
