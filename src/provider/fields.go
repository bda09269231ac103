package provider

import (
	"reflect"
	"sort"
	"strconv"
	"strings"

	"market-platform/src/standard_models"
)

// schemaExtraTags are the field tags copied into FieldInfo.JSONSchemaExtra.
var schemaExtraTags = []string{"x-unit_measurement", "x-frontend_multiply", "multiple_items_allowed"}

// FieldInfo describes one field of a merged schema. Extra lists, per
// attribute, the providers that declared a truthy value for it through
// JSONSchemaExtra; ProviderExtra keeps every declared value per provider.
type FieldInfo struct {
	Name            string                    `json:"name"`
	GoName          string                    `json:"-"`
	Type            string                    `json:"type"`
	Annotation      reflect.Type              `json:"-"`
	Default         any                       `json:"default,omitempty"`
	Description     string                    `json:"description,omitempty"`
	Required        bool                      `json:"required"`
	Choices         []string                  `json:"choices,omitempty"`
	JSONSchemaExtra map[string]any            `json:"json_schema_extra,omitempty"`
	Extra           map[string][]string       `json:"extra,omitempty"`
	ProviderExtra   map[string]map[string]any `json:"provider_extra,omitempty"`
	ExcludeFromAPI  bool                      `json:"exclude_from_api,omitempty"`
}

// SchemaExtraProvider is implemented by query-params or data types that
// declare per-field schema extras, keyed by JSON field name.
type SchemaExtraProvider interface {
	JSONSchemaExtra() map[string]map[string]any
}

// -----------------------------------------------------------------------------

func newFieldInfo(f standard_models.Field) FieldInfo {
	fi := FieldInfo{
		Name:           f.JSONName,
		GoName:         f.Name,
		Type:           standard_models.SemanticType(f.Type),
		Annotation:     f.Type,
		Description:    f.Tag.Get("description"),
		ExcludeFromAPI: f.Tag.Get("api") == "exclude",
	}
	if def, ok := f.Tag.Lookup("default"); ok {
		fi.Default = parseDefault(def, f.Type)
	}
	fi.Required = fi.Default == nil && strings.Contains(f.Tag.Get("validate"), "required")
	if choices, ok := f.Tag.Lookup("choices"); ok {
		fi.Choices = strings.Split(choices, ",")
	}
	for _, key := range schemaExtraTags {
		v, ok := f.Tag.Lookup(key)
		if !ok {
			continue
		}
		if fi.JSONSchemaExtra == nil {
			fi.JSONSchemaExtra = make(map[string]any)
		}
		fi.JSONSchemaExtra[key] = parseScalar(v)
	}
	return fi
}

// -----------------------------------------------------------------------------

func parseDefault(s string, t reflect.Type) any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	case reflect.Float32, reflect.Float64:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

func parseScalar(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// -----------------------------------------------------------------------------

// clone deep-copies the merge-relevant maps so merges never share state.
func (fi FieldInfo) clone() FieldInfo {
	out := fi
	if fi.Choices != nil {
		out.Choices = append([]string(nil), fi.Choices...)
	}
	if fi.JSONSchemaExtra != nil {
		out.JSONSchemaExtra = make(map[string]any, len(fi.JSONSchemaExtra))
		for k, v := range fi.JSONSchemaExtra {
			out.JSONSchemaExtra[k] = v
		}
	}
	if fi.Extra != nil {
		out.Extra = make(map[string][]string, len(fi.Extra))
		for k, v := range fi.Extra {
			out.Extra[k] = append([]string(nil), v...)
		}
	}
	if fi.ProviderExtra != nil {
		out.ProviderExtra = make(map[string]map[string]any, len(fi.ProviderExtra))
		for p, attrs := range fi.ProviderExtra {
			m := make(map[string]any, len(attrs))
			for k, v := range attrs {
				m[k] = v
			}
			out.ProviderExtra[p] = m
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// withProviderExtra returns a new FieldInfo with provider's declared attrs
// folded in. The receiver is not modified.
func (fi FieldInfo) withProviderExtra(provider string, attrs map[string]any) FieldInfo {
	if len(attrs) == 0 {
		return fi
	}
	out := fi.clone()
	if out.ProviderExtra == nil {
		out.ProviderExtra = make(map[string]map[string]any)
	}
	if out.Extra == nil {
		out.Extra = make(map[string][]string)
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pe := make(map[string]any, len(attrs))
	for _, attr := range keys {
		v := attrs[attr]
		pe[attr] = v
		if truthy(v) && !contains(out.Extra[attr], provider) {
			out.Extra[attr] = append(out.Extra[attr], provider)
		}
	}
	out.ProviderExtra[provider] = pe
	return out
}

// -----------------------------------------------------------------------------

func truthy(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return !rv.IsZero()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------

// schemaExtras returns the JSONSchemaExtra declarations of t, if any.
func schemaExtras(t reflect.Type) map[string]map[string]any {
	if sp, ok := reflect.New(t).Interface().(SchemaExtraProvider); ok {
		return sp.JSONSchemaExtra()
	}
	return nil
}
