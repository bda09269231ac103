package obbject

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"

	"market-platform/src/helpers"
	"market-platform/src/standard_models"

	"github.com/go-gota/gota/dataframe"
)

// table is the normalised tabular form shared by every conversion. index
// holds row labels when results were keyed by name.
type table struct {
	columns []string
	rows    []map[string]any
	index   []string
}

// -----------------------------------------------------------------------------

// ToDataFrame converts the results to a gota DataFrame. Entirely-null
// columns are dropped and columns follow the row type's field order. gota
// has no time series, so date columns hold ISO 8601 strings in UTC.
func (o *OBBject) ToDataFrame() (dataframe.DataFrame, error) {
	switch df := o.Results.(type) {
	case dataframe.DataFrame:
		return df, nil
	case *dataframe.DataFrame:
		if df != nil {
			return *df, nil
		}
	}

	if groups, ok := seriesGroups(o.Results); ok {
		return concatGroups(groups)
	}

	t, err := o.table()
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	return t.frame()
}

// -----------------------------------------------------------------------------

// ToDict converts the results per orient: records, list, dict or index.
// The list orient transposes when results map names to mappings.
func (o *OBBject) ToDict(orient string) (any, error) {
	if orient == "" {
		orient = "list"
	}
	t, err := o.table()
	if err != nil {
		return nil, err
	}

	switch orient {
	case "records":
		out := make([]map[string]any, len(t.rows))
		for i, r := range t.rows {
			out[i] = r
		}
		return out, nil

	case "list":
		if o.isMappingOfMappings() {
			out := make(map[string][]any, len(t.rows))
			for i, r := range t.rows {
				vals := make([]any, len(t.columns))
				for j, c := range t.columns {
					vals[j] = r[c]
				}
				out[t.label(i)] = vals
			}
			return out, nil
		}
		out := make(map[string][]any, len(t.columns))
		for _, c := range t.columns {
			vals := make([]any, len(t.rows))
			for i, r := range t.rows {
				vals[i] = r[c]
			}
			out[c] = vals
		}
		return out, nil

	case "dict":
		out := make(map[string]map[string]any, len(t.columns))
		for _, c := range t.columns {
			m := make(map[string]any, len(t.rows))
			for i, r := range t.rows {
				m[t.label(i)] = r[c]
			}
			out[c] = m
		}
		return out, nil

	case "index":
		out := make(map[string]map[string]any, len(t.rows))
		for i, r := range t.rows {
			out[t.label(i)] = r
		}
		return out, nil
	}
	return nil, helpers.NewValidationError("orient", "unsupported orient '%s' (records, list, dict, index)", orient)
}

// -----------------------------------------------------------------------------

// ToArray returns the results as rows of values in column order.
func (o *OBBject) ToArray() ([][]any, error) {
	t, err := o.table()
	if err != nil {
		return nil, err
	}
	out := make([][]any, len(t.rows))
	for i, r := range t.rows {
		vals := make([]any, len(t.columns))
		for j, c := range t.columns {
			vals[j] = r[c]
		}
		out[i] = vals
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (t table) label(i int) string {
	if i < len(t.index) {
		return t.index[i]
	}
	return strconv.Itoa(i)
}

// -----------------------------------------------------------------------------

func (t table) frame() (dataframe.DataFrame, error) {
	if len(t.columns) == 0 || len(t.rows) == 0 {
		return dataframe.DataFrame{}, helpers.NewEmptyDataError("results not found")
	}
	filled := make([]map[string]any, len(t.rows))
	for i, r := range t.rows {
		row := make(map[string]any, len(t.columns))
		for _, c := range t.columns {
			if v, ok := r[c]; ok {
				row[c] = v
			} else {
				row[c] = "NaN"
			}
		}
		filled[i] = row
	}
	normaliseDates(filled, t.columns)

	df := dataframe.LoadMaps(filled)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("to dataframe: %w", df.Err)
	}

	var cols []string
	for _, c := range t.columns {
		if !allNaN(df, c) {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return dataframe.DataFrame{}, helpers.NewEmptyDataError("results not found")
	}
	df = df.Select(cols)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("to dataframe: %w", df.Err)
	}
	return df, nil
}

// normaliseDates rewrites columns whose values all parse as timestamps:
// YYYY-MM-DD when every value falls on midnight UTC, RFC 3339 in UTC
// otherwise.
func normaliseDates(rows []map[string]any, columns []string) {
	for _, c := range columns {
		parsed := make([]time.Time, len(rows))
		dates, seen := true, false
		for i, r := range rows {
			if r[c] == nil || r[c] == "NaN" {
				continue
			}
			s, ok := r[c].(string)
			if !ok {
				seen = false
				break
			}
			ts, err := parseTimestamp(s)
			if err != nil {
				seen = false
				break
			}
			parsed[i], seen = ts.UTC(), true
			if !parsed[i].Equal(parsed[i].Truncate(24 * time.Hour)) {
				dates = false
			}
		}
		if !seen {
			continue
		}
		layout := time.RFC3339Nano
		if dates {
			layout = time.DateOnly
		}
		for i, r := range rows {
			if r[c] != nil && r[c] != "NaN" {
				r[c] = parsed[i].Format(layout)
			}
		}
	}
}

func parseTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly} {
		var ts time.Time
		if ts, err = time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, err
}

// -----------------------------------------------------------------------------

func allNaN(df dataframe.DataFrame, col string) bool {
	for _, nan := range df.Col(col).IsNaN() {
		if !nan {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------

// table normalises results into rows via a JSON round trip.
func (o *OBBject) table() (table, error) {
	if o.Results == nil {
		return table{}, helpers.NewEmptyDataError("results not found")
	}

	if df, ok := o.Results.(dataframe.DataFrame); ok {
		return table{columns: df.Names(), rows: df.Maps()}, nil
	}

	rv := reflect.ValueOf(o.Results)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return table{}, helpers.NewEmptyDataError("results not found")
		}
		rv = rv.Elem()
	}

	if groups, ok := seriesGroups(o.Results); ok {
		return concatTable(groups)
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			return table{}, helpers.NewEmptyDataError("results not found")
		}
		return rowsTable(rv)

	case reflect.Map:
		if rv.Len() == 0 {
			return table{}, helpers.NewEmptyDataError("results not found")
		}
		return mapTable(rv)

	case reflect.Struct:
		return rowsTable(reflect.ValueOf([]any{rv.Interface()}))
	}
	return table{columns: []string{"value"}, rows: []map[string]any{{"value": rv.Interface()}}}, nil
}

// -----------------------------------------------------------------------------

func rowsTable(rv reflect.Value) (table, error) {
	t := table{}
	seen := make(map[string]bool)

	if et := elemStructType(rv); et != nil {
		for _, name := range standard_models.FieldNames(et) {
			seen[name] = true
			t.columns = append(t.columns, name)
		}
	}

	var extra []string
	for i := 0; i < rv.Len(); i++ {
		row, err := normalise(rv.Index(i).Interface())
		if err != nil {
			return table{}, err
		}
		for k := range row {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
		t.rows = append(t.rows, row)
	}
	sort.Strings(extra)
	t.columns = append(t.columns, extra...)
	t.columns = presentColumns(t)
	return t, nil
}

// presentColumns drops columns with no non-null value in any row.
func presentColumns(t table) []string {
	var out []string
	for _, c := range t.columns {
		for _, r := range t.rows {
			if _, ok := r[c]; ok {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// -----------------------------------------------------------------------------

func elemStructType(rv reflect.Value) reflect.Type {
	et := rv.Type().Elem()
	for et.Kind() == reflect.Pointer {
		et = et.Elem()
	}
	if et.Kind() == reflect.Struct {
		return et
	}
	if rv.Len() > 0 {
		first := rv.Index(0)
		for first.Kind() == reflect.Interface || first.Kind() == reflect.Pointer {
			if first.IsNil() {
				return nil
			}
			first = first.Elem()
		}
		if first.Kind() == reflect.Struct {
			return first.Type()
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// mapTable handles a mapping: of mappings (one row per key), of sequences
// (one column per key) or of scalars (a single row).
func mapTable(rv reflect.Value) (table, error) {
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, fmt.Sprint(k.Interface()))
	}
	sort.Strings(keys)

	generic, err := normaliseAny(rv.Interface())
	if err != nil {
		return table{}, err
	}
	m, ok := generic.(map[string]any)
	if !ok {
		return table{}, fmt.Errorf("to table: results of type %s are not tabular", rv.Type())
	}

	switch {
	case allValues(m, isMap):
		t := table{index: keys}
		seen := make(map[string]bool)
		for _, k := range keys {
			row := dropNil(m[k].(map[string]any))
			for c := range row {
				if !seen[c] {
					seen[c] = true
					t.columns = append(t.columns, c)
				}
			}
			t.rows = append(t.rows, row)
		}
		sort.Strings(t.columns)
		return t, nil

	case allValues(m, isSlice):
		t := table{columns: keys}
		n := 0
		for _, k := range keys {
			if l := len(m[k].([]any)); l > n {
				n = l
			}
		}
		for i := 0; i < n; i++ {
			row := make(map[string]any)
			for _, k := range keys {
				if s := m[k].([]any); i < len(s) && s[i] != nil {
					row[k] = s[i]
				}
			}
			t.rows = append(t.rows, row)
		}
		t.columns = presentColumns(t)
		return t, nil
	}

	row := dropNil(m)
	t := table{rows: []map[string]any{row}}
	for _, k := range keys {
		if _, ok := row[k]; ok {
			t.columns = append(t.columns, k)
		}
	}
	return t, nil
}

// -----------------------------------------------------------------------------

func (o *OBBject) isMappingOfMappings() bool {
	rv := reflect.ValueOf(o.Results)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Map || rv.Len() == 0 {
		return false
	}
	generic, err := normaliseAny(rv.Interface())
	if err != nil {
		return false
	}
	m, ok := generic.(map[string]any)
	return ok && allValues(m, isMap)
}

// -----------------------------------------------------------------------------

func normalise(v any) (map[string]any, error) {
	generic, err := normaliseAny(v)
	if err != nil {
		return nil, err
	}
	m, ok := generic.(map[string]any)
	if !ok {
		return map[string]any{"value": generic}, nil
	}
	return dropNil(m), nil
}

func normaliseAny(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("to table: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("to table: %w", err)
	}
	return out, nil
}

func dropNil(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func allValues(m map[string]any, pred func(any) bool) bool {
	if len(m) == 0 {
		return false
	}
	for _, v := range m {
		if !pred(v) {
			return false
		}
	}
	return true
}

func isMap(v any) bool   { _, ok := v.(map[string]any); return ok }
func isSlice(v any) bool { _, ok := v.([]any); return ok }
