package standard_models

import (
	"reflect"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

var (
	pkgPath   = reflect.TypeOf(Field{}).PkgPath()
	dateType  = reflect.TypeOf(civil.Date{})
	timeType  = reflect.TypeOf(time.Time{})
	docString = reflect.TypeOf((*interface{ Docstring() string })(nil)).Elem()
	aliasDict = reflect.TypeOf((*interface{ Aliases() map[string]string })(nil)).Elem()
)

// Field is one JSON-visible field of a struct, promoted fields included.
// Index is the path usable with reflect.Value.FieldByIndexErr.
type Field struct {
	reflect.StructField
	JSONName  string
	OmitEmpty bool
	Standard  bool
	Depth     int
}

// -----------------------------------------------------------------------------

// IsStandard reports whether t is declared in this package.
func IsStandard(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.PkgPath() == pkgPath
}

// -----------------------------------------------------------------------------

// Fields flattens t the way encoding/json sees it: embedded structs are
// promoted, the shallowest field wins a name clash, and order follows the
// first declaration of each name.
func Fields(t reflect.Type) []Field {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	var order []string
	best := make(map[string]Field)
	visiting := make(map[reflect.Type]bool)

	var walk func(st reflect.Type, index []int, depth int, standard bool)
	walk = func(st reflect.Type, index []int, depth int, standard bool) {
		if visiting[st] {
			return
		}
		visiting[st] = true
		defer delete(visiting, st)

		for i := 0; i < st.NumField(); i++ {
			sf := st.Field(i)
			tag := sf.Tag.Get("json")
			if tag == "-" {
				continue
			}
			name, opts, _ := strings.Cut(tag, ",")
			idx := make([]int, len(index)+1)
			copy(idx, index)
			idx[len(index)] = i

			if sf.Anonymous && name == "" {
				et := sf.Type
				if et.Kind() == reflect.Pointer {
					et = et.Elem()
				}
				if et.Kind() == reflect.Struct {
					walk(et, idx, depth+1, standard || IsStandard(et))
					continue
				}
			}
			if !sf.IsExported() {
				continue
			}
			if name == "" {
				name = sf.Name
			}
			sf.Index = idx
			f := Field{
				StructField: sf,
				JSONName:    name,
				OmitEmpty:   strings.Contains(opts, "omitempty"),
				Standard:    standard,
				Depth:       depth,
			}
			if prev, ok := best[name]; ok {
				if depth < prev.Depth {
					best[name] = f
				}
				continue
			}
			best[name] = f
			order = append(order, name)
		}
	}
	walk(t, nil, 0, IsStandard(t))

	out := make([]Field, 0, len(order))
	for _, name := range order {
		out = append(out, best[name])
	}
	return out
}

// -----------------------------------------------------------------------------

// FieldNames returns the JSON names of Fields(t) in order.
func FieldNames(t reflect.Type) []string {
	fields := Fields(t)
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.JSONName
	}
	return names
}

// -----------------------------------------------------------------------------

// SemanticType names the schema type of a Go field type.
func SemanticType(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch {
	case t == dateType:
		return "date"
	case t == timeType:
		return "datetime"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	}
	return "any"
}

// -----------------------------------------------------------------------------

// Docstring returns the Docstring() of t (value or pointer receiver), or "".
func Docstring(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	v := reflect.New(t)
	if t.Implements(docString) {
		return v.Elem().Interface().(interface{ Docstring() string }).Docstring()
	}
	if v.Type().Implements(docString) {
		return v.Interface().(interface{ Docstring() string }).Docstring()
	}
	return ""
}

// -----------------------------------------------------------------------------

// Aliases returns the Aliases() of t (value or pointer receiver): the raw
// field a provider reads each data field from, keyed by JSON name.
func Aliases(t reflect.Type) map[string]string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	v := reflect.New(t)
	if t.Implements(aliasDict) {
		return v.Elem().Interface().(interface{ Aliases() map[string]string }).Aliases()
	}
	if v.Type().Implements(aliasDict) {
		return v.Interface().(interface{ Aliases() map[string]string }).Aliases()
	}
	return nil
}

// -----------------------------------------------------------------------------

// FirstStandard returns the first standard struct type reachable from t by
// embedding, depth first in declaration order.
func FirstStandard(t reflect.Type) (reflect.Type, bool) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, false
	}
	if IsStandard(t) {
		return t, true
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.Anonymous {
			continue
		}
		if st, ok := FirstStandard(sf.Type); ok {
			return st, true
		}
	}
	return nil, false
}

// -----------------------------------------------------------------------------

// Embeds reports whether t is base or embeds base at any depth.
func Embeds(t, base reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == base {
		return true
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Anonymous && Embeds(sf.Type, base) {
			return true
		}
	}
	return false
}
