package llm

// ObjectSchema builds the JSON-schema object describing a tool's
// parameters, in the shape every provider's function-calling API expects.
func ObjectSchema(tool Tool) map[string]any {
	required := tool.RequiredParameters()
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": tool.Parameters(),
		"required":   required,
	}
}

// FunctionDeclarations renders tools as generic "function" declarations.
// Providers whose SDK types mirror this shape can JSON-roundtrip the
// result directly.
func FunctionDeclarations(tools []Tool) []map[string]any {
	var decls []map[string]any
	for _, t := range tools {
		decls = append(decls, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name(),
				"description": t.Description(),
				"parameters":  ObjectSchema(t),
			},
		})
	}
	return decls
}
