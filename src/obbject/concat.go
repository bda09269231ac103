package obbject

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/go-gota/gota/dataframe"
)

// group is one named sequence of rows inside a dict-of-sequences result.
type group struct {
	key  string
	rows []map[string]any
}

// -----------------------------------------------------------------------------

// seriesGroups recognises results holding one mapping whose values are all
// sequences of rows, either bare or wrapped in a one-element sequence.
func seriesGroups(results any) ([]group, bool) {
	rv := reflect.ValueOf(results)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, false
	}
	if rv.Kind() == reflect.Slice && rv.Len() == 1 {
		results = rv.Index(0).Interface()
	} else if rv.Kind() != reflect.Map {
		return nil, false
	}

	generic, err := normaliseAny(results)
	if err != nil {
		return nil, false
	}
	m, ok := generic.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make([]group, 0, len(keys))
	for _, k := range keys {
		seq, ok := m[k].([]any)
		if !ok || len(seq) == 0 {
			return nil, false
		}
		g := group{key: k}
		for _, item := range seq {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			g.rows = append(g.rows, dropNil(row))
		}
		groups = append(groups, g)
	}
	return groups, true
}

// -----------------------------------------------------------------------------

// groupTable prefixes every column with the group key and pads the rows to n.
func groupTable(g group, n int) table {
	t := table{}
	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		row := make(map[string]any)
		if i < len(g.rows) {
			for c, v := range g.rows[i] {
				name := fmt.Sprintf("%s.%s", g.key, c)
				row[name] = v
				if !seen[name] {
					seen[name] = true
					t.columns = append(t.columns, name)
				}
			}
		}
		t.rows = append(t.rows, row)
	}
	sort.Strings(t.columns)
	return t
}

func longest(groups []group) int {
	n := 0
	for _, g := range groups {
		if len(g.rows) > n {
			n = len(g.rows)
		}
	}
	return n
}

// -----------------------------------------------------------------------------

// concatTable joins the groups column-wise into a single table.
func concatTable(groups []group) (table, error) {
	n := longest(groups)
	out := table{rows: make([]map[string]any, n)}
	for i := range out.rows {
		out.rows[i] = make(map[string]any)
	}
	for _, g := range groups {
		t := groupTable(g, n)
		out.columns = append(out.columns, t.columns...)
		for i, r := range t.rows {
			for k, v := range r {
				out.rows[i][k] = v
			}
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// concatGroups builds one frame per group and binds them column-wise.
func concatGroups(groups []group) (dataframe.DataFrame, error) {
	n := longest(groups)
	var out dataframe.DataFrame
	for i, g := range groups {
		df, err := groupTable(g, n).frame()
		if err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("group %q: %w", g.key, err)
		}
		if i == 0 {
			out = df
			continue
		}
		out = out.CBind(df)
		if out.Err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("to dataframe: %w", out.Err)
		}
	}
	return out, nil
}
