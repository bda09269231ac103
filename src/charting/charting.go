package charting

import (
	"context"
	"fmt"
	"math"

	"market-platform/src/models"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// LineChart renders every numeric column of a frame as a line over the
// date column, in a plotly-compatible figure.
type LineChart struct {
	paths map[string]bool
}

// -----------------------------------------------------------------------------

// New returns a hook that charts the given command paths. An empty list
// charts every path.
func New(paths []string) *LineChart {
	c := &LineChart{paths: make(map[string]bool, len(paths))}
	for _, p := range paths {
		c.paths[p] = true
	}
	return c
}

// -----------------------------------------------------------------------------

// IsChartable reports whether path can be charted.
func (c *LineChart) IsChartable(path string) bool {
	return len(c.paths) == 0 || c.paths[path]
}

// -----------------------------------------------------------------------------

// Chart builds the figure. params may carry "title" and "x".
func (c *LineChart) Chart(ctx context.Context, path string, df dataframe.DataFrame, params map[string]any) (*models.MChart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if df.Err != nil {
		return nil, df.Err
	}
	if df.Nrow() == 0 {
		return nil, fmt.Errorf("chart %s: no rows", path)
	}

	xName := "date"
	if v, ok := params["x"].(string); ok && v != "" {
		xName = v
	}
	var x []any
	if hasColumn(df, xName) {
		x = values(df.Col(xName))
	} else {
		xName = ""
		x = make([]any, df.Nrow())
		for i := range x {
			x[i] = i
		}
	}

	var traces []map[string]any
	for _, name := range df.Names() {
		if name == xName {
			continue
		}
		col := df.Col(name)
		if col.Type() != series.Float && col.Type() != series.Int {
			continue
		}
		traces = append(traces, map[string]any{
			"type": "scatter",
			"mode": "lines",
			"name": name,
			"x":    x,
			"y":    values(col),
		})
	}
	if len(traces) == 0 {
		return nil, fmt.Errorf("chart %s: no numeric columns", path)
	}

	title := path
	if v, ok := params["title"].(string); ok && v != "" {
		title = v
	}
	return &models.MChart{
		Format: "plotly",
		Content: map[string]any{
			"data":   traces,
			"layout": map[string]any{"title": map[string]any{"text": title}, "xaxis": map[string]any{"title": xName}},
		},
	}, nil
}

// -----------------------------------------------------------------------------

func hasColumn(df dataframe.DataFrame, name string) bool {
	for _, n := range df.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// values converts a series to JSON-safe values; NaN becomes nil.
func values(s series.Series) []any {
	out := make([]any, s.Len())
	nan := s.IsNaN()
	for i := range out {
		if nan[i] {
			continue
		}
		switch s.Type() {
		case series.Float:
			f := s.Elem(i).Float()
			if !math.IsNaN(f) {
				out[i] = f
			}
		case series.Int:
			v, err := s.Elem(i).Int()
			if err == nil {
				out[i] = v
			}
		default:
			out[i] = s.Elem(i).String()
		}
	}
	return out
}
