package fetcher

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"market-platform/src/helpers"
	"market-platform/src/standard_models"
)

// Test runs the three stages of f in order and checks that:
//  1. the query is a *Q of the declared type,
//  2. the raw data is not empty,
//  3. raw rows are not yet data rows and, when they are keyed, expose every
//     required standard field of the data type, by name or alias,
//  4. every transformed row is of the declared data type,
//  5. every row of a list return passes the data type's validation,
//  6. a list fetcher answers empty raw data with an EmptyData error.
func Test(ctx context.Context, f Fetcher, params map[string]any, creds Credentials) error {
	q, err := f.TransformQuery(params)
	if err != nil {
		return fmt.Errorf("fetcher test: transform query: %w", err)
	}
	if got, want := reflect.TypeOf(q), reflect.PointerTo(f.QueryParamsType()); got != want {
		return fmt.Errorf("fetcher test: query is %s, want %s", got, want)
	}

	raw, err := f.ExtractData(ctx, q, creds)
	if err != nil {
		return fmt.Errorf("fetcher test: extract data: %w", err)
	}
	rawV := reflect.ValueOf(raw)
	if isEmpty(rawV) {
		return fmt.Errorf("fetcher test: extract data returned no data")
	}
	if err := checkRaw(rawV, f.DataType()); err != nil {
		return err
	}

	res, err := f.TransformData(q, raw)
	if err != nil {
		return fmt.Errorf("fetcher test: transform data: %w", err)
	}
	rows := collectRows(reflect.ValueOf(res), f.IsList())
	if len(rows) == 0 {
		return fmt.Errorf("fetcher test: transform data returned no rows")
	}
	for i, row := range rows {
		rt := row.Type()
		if rt.Kind() == reflect.Pointer {
			if row.IsNil() {
				return fmt.Errorf("fetcher test: row %d is nil", i)
			}
			row, rt = row.Elem(), rt.Elem()
		}
		if rt != f.DataType() {
			return fmt.Errorf("fetcher test: row %d is %s, want %s", i, rt, f.DataType())
		}
		if f.IsList() {
			ptr := reflect.New(rt)
			ptr.Elem().Set(row)
			if err := standard_models.Validate(ptr.Interface()); err != nil {
				return fmt.Errorf("fetcher test: row %d: %w", i, err)
			}
		}
	}
	if f.IsList() {
		if _, err := f.TransformData(q, nil); helpers.Kind(err) != helpers.KindEmptyData {
			return fmt.Errorf("fetcher test: transform data did not reject empty raw data (got %v)", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func isEmpty(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return true
		}
		return isEmpty(v.Elem())
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return v.Len() == 0
	}
	return false
}

// -----------------------------------------------------------------------------

func checkRaw(raw reflect.Value, dataType reflect.Type) error {
	for raw.Kind() == reflect.Pointer || raw.Kind() == reflect.Interface {
		raw = raw.Elem()
	}
	first := raw
	if raw.Kind() == reflect.Slice || raw.Kind() == reflect.Array {
		first = raw.Index(0)
	}
	for first.Kind() == reflect.Interface && !first.IsNil() {
		first = first.Elem()
	}

	ft := first.Type()
	if ft == dataType || (ft.Kind() == reflect.Pointer && ft.Elem() == dataType) {
		return fmt.Errorf("fetcher test: extract data already returned %s rows", dataType)
	}

	have := make(map[string]bool)
	switch {
	case first.Kind() == reflect.Map && first.Type().Key().Kind() == reflect.String:
		for _, k := range first.MapKeys() {
			have[strings.ToLower(k.String())] = true
		}
	case first.Kind() == reflect.Struct:
		for _, f := range standard_models.Fields(ft) {
			have[strings.ToLower(f.JSONName)] = true
			have[strings.ToLower(f.Name)] = true
		}
	default:
		return nil
	}

	if missing := missingFields(dataType, have); len(missing) > 0 {
		return fmt.Errorf("fetcher test: raw rows lack the data fields %v", missing)
	}
	return nil
}

// -----------------------------------------------------------------------------

// missingFields lists the required fields of dataType absent from have.
// Pointer and omitempty fields are optional. Provider extras are skipped
// when the type extends a standard model.
func missingFields(dataType reflect.Type, have map[string]bool) []string {
	_, extends := standard_models.FirstStandard(dataType)
	aliases := standard_models.Aliases(dataType)

	var missing []string
	for _, f := range standard_models.Fields(dataType) {
		if f.OmitEmpty || f.Type.Kind() == reflect.Pointer || (extends && !f.Standard) {
			continue
		}
		if have[strings.ToLower(f.JSONName)] || have[strings.ToLower(f.Name)] {
			continue
		}
		if a, ok := aliases[f.JSONName]; ok && have[strings.ToLower(a)] {
			continue
		}
		missing = append(missing, f.JSONName)
	}
	return missing
}

// -----------------------------------------------------------------------------

func collectRows(v reflect.Value, isList bool) []reflect.Value {
	if !v.IsValid() {
		return nil
	}
	if !isList {
		return []reflect.Value{v}
	}
	rows := make([]reflect.Value, v.Len())
	for i := range rows {
		rows[i] = v.Index(i)
	}
	return rows
}
