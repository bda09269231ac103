package provider

import (
	"fmt"
	"reflect"

	"market-platform/src/standard_models"
)

// returnRow synthesizes a flat copy of d with a trailing Provider field whose
// tag pins the provider name and marks it excluded from API output. d itself
// is left untouched.
func returnRow(d reflect.Type, provider string) reflect.Type {
	var fields []reflect.StructField
	goNames := make(map[string]bool)
	for _, f := range standard_models.Fields(d) {
		if f.JSONName == "provider" || f.Name == "Provider" || goNames[f.Name] {
			continue
		}
		goNames[f.Name] = true
		fields = append(fields, reflect.StructField{Name: f.Name, Type: f.Type, Tag: f.Tag})
	}
	fields = append(fields, reflect.StructField{
		Name: "Provider",
		Type: reflect.TypeFor[string](),
		Tag:  reflect.StructTag(fmt.Sprintf(`json:"provider" api:"exclude" literal:"%s" description:"The data provider for the data."`, provider)),
	})
	return reflect.StructOf(fields)
}

// -----------------------------------------------------------------------------

// Row copies the fields of src (a provider data row or pointer to one) into
// a new value of the return row type with Provider pinned.
func (r ReturnInfo) Row(src any) (any, error) {
	sv := reflect.ValueOf(src)
	for sv.Kind() == reflect.Pointer {
		if sv.IsNil() {
			return nil, fmt.Errorf("return row: nil %s", sv.Type())
		}
		sv = sv.Elem()
	}
	if sv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("return row: %s is not a struct", sv.Type())
	}

	out := reflect.New(r.Model).Elem()
	for i := 0; i < r.Model.NumField(); i++ {
		sf := r.Model.Field(i)
		if sf.Name == "Provider" {
			out.Field(i).SetString(r.Provider)
			continue
		}
		if fv := sv.FieldByName(sf.Name); fv.IsValid() && fv.Type() == sf.Type {
			out.Field(i).Set(fv)
		}
	}
	return out.Interface(), nil
}

// Literal returns the provider name pinned in the row type's tag.
func (r ReturnInfo) Literal() string {
	if r.Model == nil {
		return ""
	}
	sf, ok := r.Model.FieldByName("Provider")
	if !ok {
		return ""
	}
	return sf.Tag.Get("literal")
}
