package llm

// BuildRecordJSONSchema is the minimal shape accepted from the structuring
// model: an array of flat objects with scalar values, each with at least one
// field.
func BuildRecordJSONSchema() map[string]any {
	return map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "array",
		"items": map[string]any{
			"type":          "object",
			"minProperties": 1,
			"additionalProperties": map[string]any{
				"type": []any{"string", "number", "integer", "boolean", "null"},
			},
		},
	}
}

// BuildTargetJSONSchema describes one mapped row: exactly the target columns,
// all present, all strings.
func BuildTargetJSONSchema(columns []string) map[string]any {
	props := map[string]any{}
	required := make([]any, 0, len(columns))
	for _, c := range columns {
		props[c] = map[string]any{"type": "string"}
		required = append(required, c)
	}
	return map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "array",
		"items": map[string]any{
			"type":                 "object",
			"properties":           props,
			"required":             required,
			"additionalProperties": false,
		},
	}
}
