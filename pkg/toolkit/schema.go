package toolkit

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// deriveSchema builds a JSON schema map from a tool's declared Parameters,
// adapted from the teacher's struct-tag-driven functiontool schema
// generator: here the fields come from an explicit Parameter list rather
// than reflected Go struct tags, since toolkit.Tool declares its contract
// at the interface level, not via a typed Args struct.
func deriveSchema(params []Parameter) map[string]any {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: jsonschema.NewProperties(),
	}

	var required []string
	for _, p := range params {
		prop := &jsonschema.Schema{
			Type:        jsonSchemaType(p.Type),
			Description: p.Description,
		}
		if p.Default != nil {
			prop.Default = p.Default
		}
		for _, e := range p.Enum {
			prop.Enum = append(prop.Enum, e)
		}
		schema.Properties.Set(p.Name, prop)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema.Required = required

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

func jsonSchemaType(t string) string {
	switch t {
	case "string", "number", "boolean", "object", "array", "integer":
		return t
	default:
		return "string"
	}
}

// ToDefinition converts a registered Tool into its LLM-facing Definition.
func ToDefinition(t Tool, category string) Definition {
	return Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Category:    category,
		Parameters:  deriveSchema(t.Parameters()),
	}
}
