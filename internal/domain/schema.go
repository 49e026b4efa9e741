package domain

// SchemaField is one required string property of a structured reply.
type SchemaField struct {
	Name        string
	Description string
}

// ResponseSchema describes a flat structured reply whose properties are all
// required strings. Providers translate it into their own schema dialect.
type ResponseSchema struct {
	Name   string
	Fields []SchemaField
}

// FieldNames returns the property names in declaration order.
func (s ResponseSchema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}

// JSONSchema renders the schema as a JSON Schema document.
func (s ResponseSchema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		prop := map[string]any{"type": "string"}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		props[f.Name] = prop
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             s.FieldNames(),
	}
}
