package standard_models_test

import (
	"reflect"
	"testing"
	"time"

	"market-platform/src/helpers"
	sm "market-platform/src/standard_models"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vendorHistoricalQuery struct {
	sm.EquityHistoricalQueryParams
	Interval string   `json:"interval" default:"1d" choices:"1m,1h,1d,1W,1M" description:"Time interval of the data."`
	Adjusted bool     `json:"adjusted" default:"true"`
	Limit    int      `json:"limit" default:"100" validate:"gte=1,lte=5000"`
	Exchange []string `json:"exchange" normalize:"lower"`
}

type vendorHistoricalData struct {
	sm.EquityHistoricalData
	Dividend *float64 `json:"dividend,omitempty" normalize:"zero_nil"`
	Close    float64  `json:"close" description:"Adjusted close."`
}

func fixToday(t *testing.T, d civil.Date) {
	t.Helper()
	t.Cleanup(sm.SetToday(func() civil.Date { return d }))
}

func TestFields_PromotesAndShadows(t *testing.T) {
	fields := sm.Fields(reflect.TypeFor[vendorHistoricalData]())
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.JSONName
	}
	assert.Equal(t, []string{"date", "open", "high", "low", "close", "volume", "vwap", "dividend"}, names)

	byName := map[string]sm.Field{}
	for _, f := range fields {
		byName[f.JSONName] = f
	}
	assert.True(t, byName["open"].Standard)
	assert.False(t, byName["dividend"].Standard)
	assert.False(t, byName["close"].Standard, "outer declaration shadows the standard one")
	assert.Equal(t, "Adjusted close.", byName["close"].Tag.Get("description"))
}

func TestBuild_DefaultsNormalisersAndChoices(t *testing.T) {
	fixToday(t, civil.Date{Year: 2024, Month: time.March, Day: 1})

	var q vendorHistoricalQuery
	err := sm.Build(map[string]any{
		"symbol":   "aapl",
		"interval": "1w",
		"limit":    "10",
		"exchange": "NYSE,NASDAQ",
		"adjusted": nil,
	}, &q)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, "1W", q.Interval, "case-insensitive choice normalised to declared case")
	assert.Equal(t, 10, q.Limit)
	assert.True(t, q.Adjusted, "explicit nil counts as absent")
	assert.Equal(t, []string{"nyse", "nasdaq"}, q.Exchange)
	require.NotNil(t, q.StartDate)
	require.NotNil(t, q.EndDate)
	assert.Equal(t, "2024-03-01", q.EndDate.String())
	assert.Equal(t, "2023-03-01", q.StartDate.String())
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		field  string
	}{
		{"missing symbol", map[string]any{}, "symbol"},
		{"bad choice", map[string]any{"symbol": "X", "interval": "2d"}, "interval"},
		{"out of bounds", map[string]any{"symbol": "X", "limit": 0}, "limit"},
		{"bad date", map[string]any{"symbol": "X", "start_date": "01/02/2024"}, "start_date"},
		{"inverted range", map[string]any{"symbol": "X", "start_date": "2024-02-01", "end_date": "2024-01-01"}, "start_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var q vendorHistoricalQuery
			err := sm.Build(tt.params, &q)
			require.Error(t, err)
			assert.Equal(t, helpers.KindValidation, helpers.Kind(err))
			var verr *helpers.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestBuild_AcceptsTypedValues(t *testing.T) {
	t.Parallel()
	start := civil.Date{Year: 2024, Month: time.January, Day: 2}
	end := time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)

	var q sm.EquityHistoricalQueryParams
	require.NoError(t, sm.Build(map[string]any{"symbol": "msft", "start_date": start, "end_date": end}, &q))
	assert.Equal(t, start, *q.StartDate)
	assert.Equal(t, "2024-01-05", q.EndDate.String())
}

func TestNormalize_ZeroNil(t *testing.T) {
	t.Parallel()
	zero, one := 0.0, 1.0
	row := vendorHistoricalData{Dividend: &zero}
	row.Volume = &one
	row.VWAP = &zero
	require.NoError(t, sm.Normalize(&row))
	assert.Nil(t, row.Dividend)
	assert.Nil(t, row.VWAP)
	assert.Equal(t, 1.0, *row.Volume)
}

func TestDefaultDateRange(t *testing.T) {
	fixToday(t, civil.Date{Year: 2024, Month: time.February, Day: 29})
	s, e, err := sm.DefaultDateRange(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", e.String())
	assert.Equal(t, "2023-03-01", s.String())
}

func TestCatalogueAndMetadata(t *testing.T) {
	t.Parallel()
	c := sm.Builtins()
	assert.Equal(t, []string{sm.CryptoHistorical, sm.CurrencyHistorical, sm.EquityHistorical, sm.EquityQuote, sm.WebSocketConnection}, c.Names())

	m := c[sm.EquityHistorical]
	assert.True(t, sm.IsStandard(m.Data))
	assert.False(t, sm.IsStandard(reflect.TypeFor[helpers.ValidationError]()))
	assert.True(t, sm.Embeds(reflect.TypeFor[vendorHistoricalQuery](), m.QueryParams))
	assert.False(t, sm.Embeds(reflect.TypeFor[vendorHistoricalQuery](), m.Data))
	assert.Equal(t, "Equity Historical Price Data.", sm.Docstring(m.Data))

	st, ok := sm.FirstStandard(reflect.TypeFor[vendorHistoricalData]())
	require.True(t, ok)
	assert.Equal(t, m.Data, st)

	assert.Equal(t, "date", sm.SemanticType(reflect.TypeFor[*civil.Date]()))
	assert.Equal(t, "datetime", sm.SemanticType(reflect.TypeFor[time.Time]()))
	assert.Equal(t, "number", sm.SemanticType(reflect.TypeFor[*float64]()))
	assert.Equal(t, "array", sm.SemanticType(reflect.TypeFor[[]string]()))

	extended := c.With(sm.Model{Name: "Custom", QueryParams: m.QueryParams, Data: m.Data})
	assert.Len(t, extended, len(c)+1)
	assert.NotContains(t, c, "Custom")
}

func TestJSONSchema(t *testing.T) {
	t.Parallel()
	schema := sm.JSONSchema(reflect.TypeFor[sm.WebSocketData]())
	assert.Equal(t, "object", schema["type"])
	assert.ElementsMatch(t, []string{"date", "symbol"}, schema["required"])
	props := schema["properties"].(map[string]any)
	assert.Equal(t, "date-time", props["date"].(map[string]any)["format"])

	quote := sm.JSONSchema(reflect.TypeFor[sm.EquityQuoteData]())["properties"].(map[string]any)
	assert.Equal(t, []any{"number", "null"}, quote["last_price"].(map[string]any)["type"])
}
