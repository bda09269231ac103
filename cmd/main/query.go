package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"market-platform/src/helpers"
	"market-platform/src/obbject"
	"market-platform/src/utils"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// maxCellWidth keeps wide values from wrapping the table.
const maxCellWidth = 40

var queryCmd = &cobra.Command{
	Use:   "query <path>",
	Short: "Run one command, e.g. query equity/price/historical --param symbol=AAPL",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the installed providers and the models they implement",
	RunE:  runProviders,
}

func init() {
	queryCmd.Flags().StringP("provider", "p", "", "provider to query")
	queryCmd.Flags().StringArray("param", nil, "command parameter as key=value, repeatable")
	queryCmd.Flags().StringP("output", "o", "table", "output format (table, json)")
}

// -----------------------------------------------------------------------------

func runQuery(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	kwargs, err := parseParams(cmd)
	if err != nil {
		return err
	}

	path := "/" + strings.Trim(args[0], "/")
	o, err := rt.runner.Run(cmd.Context(), path, kwargs)
	if err != nil {
		if helpers.Kind(err) == helpers.KindEmptyData {
			fmt.Fprintln(cmd.OutOrStdout(), "No results:", err)
			return nil
		}
		return err
	}

	out := cmd.OutOrStdout()
	if format, _ := cmd.Flags().GetString("output"); format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	}
	for _, w := range o.Warnings {
		fmt.Fprintf(out, "%s: %s\n", w.Category, w.Message)
	}
	return renderResults(out, o)
}

// parseParams turns --provider and repeated --param key=value flags into
// command keyword arguments.
func parseParams(cmd *cobra.Command) (map[string]any, error) {
	kwargs := make(map[string]any)
	if p, _ := cmd.Flags().GetString("provider"); p != "" {
		kwargs["provider"] = p
	}
	params, _ := cmd.Flags().GetStringArray("param")
	for _, kv := range params {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", kv)
		}
		kwargs[strings.TrimSpace(k)] = v
	}
	return kwargs, nil
}

// -----------------------------------------------------------------------------

func renderResults(w io.Writer, o *obbject.OBBject) error {
	df, err := o.ToDataFrame()
	if err != nil {
		return err
	}
	if df.Err != nil {
		return df.Err
	}
	records := df.Records()
	if len(records) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	header := make([]any, len(records[0]))
	for i, h := range records[0] {
		header[i] = h
	}
	table.Header(header...)
	for _, rec := range records[1:] {
		row := make([]string, len(rec))
		for i, v := range rec {
			row[i] = utils.Truncate(v, maxCellWidth)
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// -----------------------------------------------------------------------------

func runProviders(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Provider", "Models", "Credentials", "Website")
	for _, name := range rt.registry.Names() {
		p, _ := rt.registry.Get(name)
		if err := table.Append([]string{
			p.Name,
			strings.Join(p.Models(), "\n"),
			strings.Join(p.Credentials, "\n"),
			p.Website,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
