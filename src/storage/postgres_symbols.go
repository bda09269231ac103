package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// A feed symbol of the form schema.table.field names a column whose values
// are the symbols to subscribe.
var pgSymbolRef = regexp.MustCompile(`^(\w+)\.(\w+)\.(\w+)$`)

// -----------------------------------------------------------------------------

// ResolveSymbols expands every schema.table.field reference in raw into the
// distinct non-empty values of that column. Plain symbols pass through. The
// result keeps first-seen order without duplicates.
func (d *PostgresSink) ResolveSymbols(ctx context.Context, raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	var out []string
	add := func(s string) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, sym := range raw {
		m := pgSymbolRef.FindStringSubmatch(sym)
		if m == nil {
			add(sym)
			continue
		}
		loaded, err := d.symbolsFromTable(ctx, m[1], m[2], m[3])
		if err != nil {
			return out, fmt.Errorf("failed to load symbols from %s: %w", sym, err)
		}
		for _, s := range loaded {
			add(s)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresSink) symbolsFromTable(ctx context.Context, schema, table, field string) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT "%s" FROM "%s"."%s" WHERE "%s" IS NOT NULL ORDER BY 1`, field, schema, table, field)

	rows, err := d.reader.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}
