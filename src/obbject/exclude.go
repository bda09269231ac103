package obbject

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"market-platform/src/standard_models"

	"github.com/go-gota/gota/dataframe"
)

var (
	stripped   sync.Map // reflect.Type -> reflect.Type
	dynamic    sync.Map // reflect.Type -> bool
	jsonMarsh  = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarsh  = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	frameType  = reflect.TypeOf(dataframe.DataFrame{})
	errorIface = reflect.TypeOf((*error)(nil)).Elem()
)

// Exclude returns a copy of v without any field tagged `api:"exclude"`, at
// any depth. Values whose types carry no such field are returned unchanged.
func Exclude(v any) any {
	if v == nil {
		return nil
	}
	out := exclude(reflect.ValueOf(v))
	if !out.IsValid() {
		return nil
	}
	return out.Interface()
}

// -----------------------------------------------------------------------------

// opaque types are serialised by their own marshaller and never walked.
func opaque(t reflect.Type) bool {
	if t == frameType {
		return true
	}
	return t.Implements(jsonMarsh) || t.Implements(textMarsh) ||
		reflect.PointerTo(t).Implements(jsonMarsh) || reflect.PointerTo(t).Implements(textMarsh)
}

// -----------------------------------------------------------------------------

// strippedType returns t with every excluded field removed, or t itself when
// nothing beneath it is excluded. Struct results are flattened.
func strippedType(t reflect.Type) reflect.Type {
	if v, ok := stripped.Load(t); ok {
		return v.(reflect.Type)
	}
	st := buildStripped(t, make(map[reflect.Type]bool))
	stripped.Store(t, st)
	return st
}

func buildStripped(t reflect.Type, visiting map[reflect.Type]bool) reflect.Type {
	if visiting[t] {
		return t
	}

	switch t.Kind() {
	case reflect.Pointer:
		if e := buildStripped(t.Elem(), visiting); e != t.Elem() {
			return reflect.PointerTo(e)
		}
	case reflect.Slice:
		if e := buildStripped(t.Elem(), visiting); e != t.Elem() {
			return reflect.SliceOf(e)
		}
	case reflect.Array:
		if e := buildStripped(t.Elem(), visiting); e != t.Elem() {
			return reflect.ArrayOf(t.Len(), e)
		}
	case reflect.Map:
		if e := buildStripped(t.Elem(), visiting); e != t.Elem() {
			return reflect.MapOf(t.Key(), e)
		}
	case reflect.Struct:
		if opaque(t) {
			return t
		}
		visiting[t] = true
		defer delete(visiting, t)

		changed := false
		goNames := make(map[string]bool)
		var out []reflect.StructField
		for _, f := range standard_models.Fields(t) {
			if f.Tag.Get("api") == "exclude" {
				changed = true
				continue
			}
			ft := buildStripped(f.Type, visiting)
			if ft != f.Type {
				changed = true
			}
			name := f.Name
			if goNames[name] {
				name = fmt.Sprintf("%s%d", f.Name, len(out))
			}
			goNames[name] = true
			out = append(out, reflect.StructField{Name: name, Type: ft, Tag: jsonTag(f)})
		}
		if changed {
			return reflect.StructOf(out)
		}
	}
	return t
}

// jsonTag pins the JSON name so a renamed Go field keeps its wire name.
func jsonTag(f standard_models.Field) reflect.StructTag {
	tag := string(f.Tag)
	if f.Tag.Get("json") != "" {
		return f.Tag
	}
	if tag != "" {
		tag += " "
	}
	return reflect.StructTag(tag + fmt.Sprintf(`json:"%s"`, f.JSONName))
}

// -----------------------------------------------------------------------------

// hasDynamic reports whether values of t may hold interfaces that need a
// walk at run time.
func hasDynamic(t reflect.Type) bool {
	if v, ok := dynamic.Load(t); ok {
		return v.(bool)
	}
	d := buildDynamic(t, make(map[reflect.Type]bool))
	dynamic.Store(t, d)
	return d
}

func buildDynamic(t reflect.Type, visiting map[reflect.Type]bool) bool {
	if visiting[t] {
		return false
	}
	switch t.Kind() {
	case reflect.Interface:
		return t != errorIface
	case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
		return buildDynamic(t.Elem(), visiting)
	case reflect.Struct:
		if opaque(t) {
			return false
		}
		visiting[t] = true
		defer delete(visiting, t)
		for _, f := range standard_models.Fields(t) {
			if buildDynamic(f.Type, visiting) {
				return true
			}
		}
	}
	return false
}

// -----------------------------------------------------------------------------

// exclude returns v rewritten to strippedType(v.Type()). Interface values are
// rewritten by their dynamic type.
func exclude(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}
	t := v.Type()
	st := strippedType(t)
	if st == t && !hasDynamic(t) {
		return v
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		return exclude(v.Elem())

	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(st)
		}
		p := reflect.New(st.Elem())
		p.Elem().Set(exclude(v.Elem()))
		return p

	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(st)
		}
		out := reflect.MakeSlice(st, v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			setElem(out.Index(i), exclude(v.Index(i)))
		}
		return out

	case reflect.Array:
		out := reflect.New(st).Elem()
		for i := 0; i < v.Len(); i++ {
			setElem(out.Index(i), exclude(v.Index(i)))
		}
		return out

	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(st)
		}
		out := reflect.MakeMapWithSize(st, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			val := exclude(iter.Value())
			if !val.IsValid() {
				val = reflect.Zero(st.Elem())
			}
			out.SetMapIndex(iter.Key(), val)
		}
		return out

	case reflect.Struct:
		return excludeStruct(v, st)
	}
	return v
}

// -----------------------------------------------------------------------------

func excludeStruct(v reflect.Value, st reflect.Type) reflect.Value {
	out := reflect.New(st).Elem()

	if st == v.Type() {
		out.Set(v)
		for i := 0; i < st.NumField(); i++ {
			f := out.Field(i)
			sf := st.Field(i)
			if !f.CanSet() || sf.Tag.Get("json") == "-" || !hasDynamic(sf.Type) {
				continue
			}
			setElem(f, exclude(v.Field(i)))
		}
		return out
	}

	src := make(map[string][]int)
	for _, f := range standard_models.Fields(v.Type()) {
		src[f.JSONName] = f.Index
	}
	for i := 0; i < st.NumField(); i++ {
		name, _, _ := strings.Cut(st.Field(i).Tag.Get("json"), ",")
		idx, ok := src[name]
		if !ok {
			continue
		}
		fv, err := v.FieldByIndexErr(idx)
		if err != nil {
			continue
		}
		setElem(out.Field(i), exclude(fv))
	}
	return out
}

// setElem assigns val to dst, leaving dst zero when val is invalid.
func setElem(dst, val reflect.Value) {
	if !val.IsValid() {
		return
	}
	dst.Set(val)
}
