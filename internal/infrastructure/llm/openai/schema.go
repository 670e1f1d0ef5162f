package openai

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildExtractionSchema describes the model response: an object carrying at
// least one known key, where each field is a {value, confidence} pair or a
// bare value, and confidences are numeric or numeric strings.
func BuildExtractionSchema() map[string]any {
	confidence := map[string]any{"type": []any{"number", "string", "null"}}
	pair := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"confidence": confidence,
		},
	}
	bare := map[string]any{"type": []any{"string", "array", "boolean", "number", "null"}}

	props := map[string]any{
		"ai_summary":         map[string]any{"type": []any{"string", "null"}},
		"overall_confidence": confidence,
		"extraction_notes":   map[string]any{"type": []any{"string", "null"}},
		"extra_data":         map[string]any{"type": []any{"object", "null"}},
	}
	anyOf := make([]any, 0, len(domain.FieldRegistry)+1)
	for _, spec := range domain.FieldRegistry {
		props[spec.Name] = map[string]any{"anyOf": []any{pair, bare}}
		anyOf = append(anyOf, map[string]any{"required": []any{spec.Name}})
	}
	anyOf = append(anyOf, map[string]any{"required": []any{"overall_confidence"}})

	return map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
		"anyOf":      anyOf,
	}
}

func compileExtractionSchema() (*jsonschema.Schema, error) {
	b, err := json.Marshal(BuildExtractionSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("extraction.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validateExtraction(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
