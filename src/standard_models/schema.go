package standard_models

import (
	"reflect"
	"strings"
)

// JSONSchema describes t as a draft 2020-12 object schema. Pointer and
// omitempty fields accept null; `validate:"required"` fields are required.
func JSONSchema(t reflect.Type) map[string]any {
	props := make(map[string]any)
	var required []string

	for _, f := range Fields(t) {
		prop := schemaType(f.Type)
		if d := f.Tag.Get("description"); d != "" {
			prop["description"] = d
		}
		if choices, ok := f.Tag.Lookup("choices"); ok {
			prop["enum"] = strings.Split(choices, ",")
		}
		props[f.JSONName] = prop
		if strings.Contains(f.Tag.Get("validate"), "required") {
			required = append(required, f.JSONName)
		}
	}

	schema := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// -----------------------------------------------------------------------------

func schemaType(t reflect.Type) map[string]any {
	nullable := t.Kind() == reflect.Pointer
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	prop := map[string]any{}
	var name string
	switch SemanticType(t) {
	case "date":
		name, prop["format"] = "string", "date"
	case "datetime":
		name, prop["format"] = "string", "date-time"
	case "string":
		name = "string"
	case "boolean":
		name = "boolean"
	case "integer":
		name = "integer"
	case "number":
		name = "number"
	case "array":
		name = "array"
	case "object":
		name = "object"
	default:
		return prop
	}

	if nullable {
		prop["type"] = []any{name, "null"}
	} else {
		prop["type"] = name
	}
	return prop
}
