package provider_test

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"market-platform/src/fetcher"
	"market-platform/src/helpers"
	"market-platform/src/provider"
	sm "market-platform/src/standard_models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type p1Query struct {
	sm.EquityHistoricalQueryParams
	Interval string `json:"interval" default:"1d" choices:"1d,1W"`
}

func (p1Query) JSONSchemaExtra() map[string]map[string]any {
	return map[string]map[string]any{
		"symbol":   {"multiple_items_allowed": true},
		"interval": {"choices": []string{"1d", "1W"}},
	}
}

type p1Data struct {
	sm.EquityHistoricalData
	Dividend *float64 `json:"dividend,omitempty" x-unit_measurement:"currency"`
}

type p2Query struct {
	sm.EquityHistoricalQueryParams
	Adjustment string `json:"adjustment" default:"splits_only"`
}

func (p2Query) JSONSchemaExtra() map[string]map[string]any {
	return map[string]map[string]any{"symbol": {"multiple_items_allowed": false}}
}

type p2Data struct {
	sm.EquityHistoricalData
	Provider string `json:"provider,omitempty"`
}

type badQuery struct {
	Symbol string `json:"symbol"`
}

type retypedData struct {
	sm.EquityHistoricalData
	Volume *int64 `json:"volume,omitempty"`
}

func newFetcher[Q any, D any](extract func(ctx context.Context, q *Q, c fetcher.Credentials) ([]map[string]any, error)) fetcher.Fetcher {
	return fetcher.MustNew(fetcher.Definition[Q, []map[string]any, []D]{
		ExtractData: extract,
		TransformData: func(q *Q, raw []map[string]any) ([]D, error) {
			if len(raw) == 0 {
				return nil, helpers.NewEmptyDataError("empty")
			}
			return make([]D, len(raw)), nil
		},
	})
}

func okExtract[Q any](ctx context.Context, q *Q, c fetcher.Credentials) ([]map[string]any, error) {
	return []map[string]any{{"date": "2024-01-02"}}, nil
}

func provider1() *provider.Provider {
	return &provider.Provider{
		Name:        "p1",
		Credentials: provider.CredentialNames("p1", "api_key"),
		FetcherDict: map[string]fetcher.Fetcher{sm.EquityHistorical: newFetcher[p1Query, p1Data](okExtract[p1Query])},
	}
}

func provider2() *provider.Provider {
	return &provider.Provider{
		Name:        "p2",
		FetcherDict: map[string]fetcher.Fetcher{sm.EquityHistorical: newFetcher[p2Query, p2Data](okExtract[p2Query])},
	}
}

func ext(p func() *provider.Provider) provider.Extension {
	return provider.Extension{Name: p().Name, Load: func() (*provider.Provider, error) { return p(), nil }}
}

func buildMap(t *testing.T, exts ...provider.Extension) *provider.RegistryMap {
	t.Helper()
	reg, err := provider.NewRegistryLoader().FromExtensions(exts)
	require.NoError(t, err)
	rm, err := provider.NewRegistryMap(reg, sm.Builtins())
	require.NoError(t, err)
	return rm
}

func field(t *testing.T, fields []provider.FieldInfo, name string) provider.FieldInfo {
	t.Helper()
	for _, f := range fields {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("field %q not found", name)
	return provider.FieldInfo{}
}

func TestRegistryLoader(t *testing.T) {
	t.Parallel()

	reg, err := provider.NewRegistryLoader().FromExtensions([]provider.Extension{ext(provider2), ext(provider1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, reg.Names())
	p, ok := reg.Get("p1")
	require.True(t, ok)
	assert.Equal(t, []string{"p1_api_key"}, p.Credentials)

	copied := reg.Providers()
	delete(copied, "p1")
	_, ok = reg.Get("p1")
	assert.True(t, ok, "Providers returns a copy")

	var loads atomic.Int32
	counting := provider.Extension{Name: "p1", Load: func() (*provider.Provider, error) { loads.Add(1); return provider1(), nil }}
	_, err = provider.NewRegistryLoader().FromExtensions([]provider.Extension{counting})
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load())

	tests := []struct {
		name string
		exts []provider.Extension
		msg  string
	}{
		{"duplicate extension", []provider.Extension{ext(provider1), ext(provider1)}, "declared twice"},
		{"nil provider", []provider.Extension{{Name: "x", Load: func() (*provider.Provider, error) { return nil, nil }}}, "no provider"},
		{"name mismatch", []provider.Extension{{Name: "x", Load: func() (*provider.Provider, error) { return provider1(), nil }}}, "is named"},
		{"load error", []provider.Extension{{Name: "x", Load: func() (*provider.Provider, error) { return nil, errors.New("boom") }}}, "boom"},
		{"no loader", []provider.Extension{{Name: "x"}}, "required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := provider.NewRegistryLoader().FromExtensions(tt.exts)
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestRegistryMap_MergeRecordsSupportingProviders(t *testing.T) {
	t.Parallel()
	rm := buildMap(t, ext(provider1), ext(provider2))

	std, ok := rm.Schemas(sm.EquityHistorical, provider.StandardKey)
	require.True(t, ok)
	symbol := field(t, std.QueryParams.Fields, "symbol")
	assert.Equal(t, []string{"p1"}, symbol.Extra["multiple_items_allowed"])
	assert.Equal(t, true, symbol.ProviderExtra["p1"]["multiple_items_allowed"])
	assert.Equal(t, false, symbol.ProviderExtra["p2"]["multiple_items_allowed"])
	assert.Equal(t, "Equity Historical Price Query.", std.QueryParams.Docstring)

	p1, ok := rm.Schemas(sm.EquityHistorical, "p1")
	require.True(t, ok)
	require.Len(t, p1.QueryParams.Fields, 1)
	interval := p1.QueryParams.Fields[0]
	assert.Equal(t, "interval", interval.Name)
	assert.Equal(t, "1d", interval.Default)
	assert.Equal(t, []string{"1d", "1W"}, interval.Choices)
	assert.Equal(t, []string{"p1"}, interval.Extra["choices"])

	div := field(t, p1.Data.Fields, "dividend")
	assert.Equal(t, "currency", div.JSONSchemaExtra["x-unit_measurement"])
	assert.Equal(t, "number", div.Type)

	p2, _ := rm.Schemas(sm.EquityHistorical, "p2")
	assert.Equal(t, "adjustment", p2.QueryParams.Fields[0].Name)
	assert.Equal(t, "provider", p2.Data.Fields[0].Name)
}

func TestRegistryMap_Views(t *testing.T) {
	t.Parallel()
	rm := buildMap(t, ext(provider2), ext(provider1))

	assert.Equal(t, []string{"p1", "p2"}, rm.AvailableProviders())
	assert.Equal(t, []string{"p1_api_key"}, rm.Credentials())
	assert.Equal(t, []string{sm.EquityHistorical}, rm.Models())
	assert.Equal(t, []string{"p1", "p2"}, rm.ProvidersFor(sm.EquityHistorical))
	assert.Empty(t, rm.ProvidersFor(sm.EquityQuote))
	assert.Equal(t, []string{"symbol", "start_date", "end_date"}, rm.StandardFields(sm.EquityHistorical))
	assert.Equal(t, []string{"p1"}, rm.ExtraFieldProviders(sm.EquityHistorical, "interval"))
	assert.True(t, rm.ProviderSupportsField(sm.EquityHistorical, "p1", "interval"))
	assert.True(t, rm.ProviderSupportsField(sm.EquityHistorical, "p2", "symbol"))
	assert.False(t, rm.ProviderSupportsField(sm.EquityHistorical, "p2", "interval"))
	assert.Len(t, rm.QueryFields(sm.EquityHistorical, "p1"), 4)

	m := rm.Map()
	delete(m[sm.EquityHistorical], "p1")
	_, ok := rm.Schemas(sm.EquityHistorical, "p1")
	assert.True(t, ok, "Map returns copies")
}

func TestRegistryMap_Deterministic(t *testing.T) {
	t.Parallel()
	a := buildMap(t, ext(provider1), ext(provider2))
	b := buildMap(t, ext(provider2), ext(provider1))
	assert.Equal(t, a.AvailableProviders(), b.AvailableProviders())
	assert.Equal(t, a.Map(), b.Map())
	assert.Equal(t, a.ReturnMap(), b.ReturnMap())
}

func TestRegistryMap_StandardFieldParity(t *testing.T) {
	t.Parallel()
	rm := buildMap(t, ext(provider1), ext(provider2))
	std := sm.Builtins()[sm.EquityHistorical]
	for _, ri := range rm.ReturnMap()[sm.EquityHistorical] {
		for _, sf := range sm.Fields(std.Data) {
			f, ok := ri.Model.FieldByName(sf.Name)
			require.True(t, ok, "%s missing %s", ri.Provider, sf.Name)
			assert.Equal(t, sm.SemanticType(sf.Type), sm.SemanticType(f.Type))
		}
	}
}

func TestRegistryMap_ReturnRows(t *testing.T) {
	t.Parallel()
	rm := buildMap(t, ext(provider1), ext(provider2))

	ri := rm.ReturnMap()[sm.EquityHistorical]["p1"]
	assert.True(t, ri.IsList)
	assert.Equal(t, "p1", ri.Literal())
	pf, ok := ri.Model.FieldByName("Provider")
	require.True(t, ok)
	assert.Equal(t, "exclude", pf.Tag.Get("api"))

	src := p1Data{}
	src.Close = 12.5
	src.Date = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	row, err := ri.Row(&src)
	require.NoError(t, err)
	rv := reflect.ValueOf(row)
	assert.Equal(t, 12.5, rv.FieldByName("Close").Float())
	assert.Equal(t, "p1", rv.FieldByName("Provider").String())
	assert.Equal(t, reflect.TypeFor[p1Data]().NumField(), 2, "the data type is not modified")

	p2 := rm.ReturnMap()[sm.EquityHistorical]["p2"]
	assert.NotEqual(t, ri.Model, p2.Model)
	_, dup := p2.Model.FieldByName("Provider")
	assert.True(t, dup)
}

func TestRegistryMap_Rejects(t *testing.T) {
	t.Parallel()
	bad := func(name, model string, f fetcher.Fetcher) provider.Extension {
		return provider.Extension{Name: name, Load: func() (*provider.Provider, error) {
			return &provider.Provider{Name: name, FetcherDict: map[string]fetcher.Fetcher{model: f}}, nil
		}}
	}
	tests := []struct {
		name string
		ext  provider.Extension
		msg  string
	}{
		{"not embedding the standard", bad("x", sm.EquityHistorical, newFetcher[badQuery, p1Data](okExtract[badQuery])), "does not embed"},
		{"wrong standard", bad("x", sm.EquityQuote, newFetcher[p1Query, p1Data](okExtract[p1Query])), "does not embed"},
		{"retyped field", bad("x", sm.EquityHistorical, newFetcher[p1Query, retypedData](okExtract[p1Query])), "the standard declares"},
		{"unknown model", bad("x", "Nope", newFetcher[p1Query, p1Data](okExtract[p1Query])), "unknown standard model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reg, err := provider.NewRegistryLoader().FromExtensions([]provider.Extension{tt.ext})
			require.NoError(t, err)
			_, err = provider.NewRegistryMap(reg, sm.Builtins())
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestProviderFetch_Credentials(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	mk := func(override *bool) *provider.Provider {
		def := fetcher.Definition[p1Query, []map[string]any, []p1Data]{
			ExtractData: func(ctx context.Context, q *p1Query, c fetcher.Credentials) ([]map[string]any, error) {
				calls.Add(1)
				assert.NotContains(t, c, "other_key", "only the provider's own credentials are passed")
				return []map[string]any{{"date": "2024-01-02"}}, nil
			},
			TransformData: func(*p1Query, []map[string]any) ([]p1Data, error) {
				d := p1Data{}
				d.Date = time.Now()
				return []p1Data{d}, nil
			},
			RequireCredentials: override,
		}
		return &provider.Provider{
			Name:               "c",
			Credentials:        provider.CredentialNames("c", "api_key"),
			RequireCredentials: true,
			FetcherDict:        map[string]fetcher.Fetcher{sm.EquityHistorical: fetcher.MustNew(def)},
		}
	}
	params := map[string]any{"symbol": "AAPL"}

	_, _, err := mk(nil).Fetch(context.Background(), sm.EquityHistorical, params, map[string]string{"other_key": "x"})
	assert.Equal(t, helpers.KindUnauthorized, helpers.Kind(err))
	assert.ErrorContains(t, err, "c_api_key")
	assert.Zero(t, calls.Load(), "no extract without credentials")

	res, _, err := mk(nil).Fetch(context.Background(), sm.EquityHistorical, params, map[string]string{"c_api_key": "k", "other_key": "x"})
	require.NoError(t, err)
	assert.Len(t, res, 1)

	no := false
	_, _, err = mk(&no).Fetch(context.Background(), sm.EquityHistorical, params, nil)
	require.NoError(t, err)

	_, _, err = mk(nil).Fetch(context.Background(), sm.EquityQuote, params, nil)
	assert.Equal(t, helpers.KindUnsupportedCombination, helpers.Kind(err))
}
