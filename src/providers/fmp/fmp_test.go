package fmp_test

import (
	"context"
	"testing"
	"time"

	"market-platform/src/fetcher"
	"market-platform/src/helpers"
	"market-platform/src/interfaces/mocks"
	"market-platform/src/providers/fmp"
	sm "market-platform/src/standard_models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const base = "https://fmp.test"

var creds = map[string]string{"fmp_api_key": "KEY", "other_api_key": "leak"}

const historicalJSON = `{"symbol":"AAPL","historical":[
 {"date":"2024-01-05","open":181.99,"high":182.76,"low":180.17,"close":181.18,"adjClose":180.7,"volume":62303300,"unadjustedVolume":62303300,"change":-0.81,"changePercent":-0.445,"vwap":181.37},
 {"date":"2024-01-04","open":182.15,"high":183.09,"low":180.88,"close":181.91,"adjClose":181.4,"volume":71983600,"unadjustedVolume":0,"change":-0.24,"changePercent":-0.1318,"vwap":181.96}
]}`

// -----------------------------------------------------------------------------

func TestEquityHistorical_Daily(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	nm := mocks.NewMockINetworkManager(ctrl)
	nm.EXPECT().
		Get(gomock.Any(), base+"/api/v3/historical-price-full/AAPL",
			map[string]string{"from": "2024-01-04", "to": "2024-01-05", "apikey": "KEY"}, gomock.Nil()).
		Return([]byte(historicalJSON), nil)

	p := fmp.New(nm, base+"/")
	res, _, err := p.Fetch(context.Background(), sm.EquityHistorical, map[string]any{
		"symbol": "aapl", "start_date": "2024-01-04", "end_date": "2024-01-05",
	}, creds)
	require.NoError(t, err)

	rows := res.([]fmp.EquityHistoricalData)
	require.Len(t, rows, 2)
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), rows[0].Date, "rows come back oldest first")
	assert.Nil(t, rows[0].UnadjustedVolume, "zero volume is normalized to nil")
	assert.InDelta(t, -0.00445, *rows[1].ChangePercent, 1e-9)
	assert.Equal(t, 181.37, *rows[1].VWAP)
}

func TestEquityHistorical_Intraday(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	nm := mocks.NewMockINetworkManager(ctrl)
	nm.EXPECT().
		Get(gomock.Any(), base+"/api/v3/historical-chart/1hour/AAPL", gomock.Any(), gomock.Nil()).
		Return([]byte(`[{"date":"2024-01-05 15:30:00","open":181.2,"high":181.4,"low":181.0,"close":181.18,"volume":900}]`), nil)

	p := fmp.New(nm, base)
	res, _, err := p.Fetch(context.Background(), sm.EquityHistorical, map[string]any{
		"symbol": "AAPL", "start_date": "2024-01-05", "end_date": "2024-01-05", "interval": "1h",
	}, creds)
	require.NoError(t, err)

	rows := res.([]fmp.EquityHistoricalData)
	require.Len(t, rows, 1)
	assert.Equal(t, time.Date(2024, 1, 5, 20, 30, 0, 0, time.UTC), rows[0].Date.UTC())
}

func TestMissingCredentialFailsBeforeRequest(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	nm := mocks.NewMockINetworkManager(ctrl)

	p := fmp.New(nm, base)
	_, _, err := p.Fetch(context.Background(), sm.EquityQuote, map[string]any{"symbol": "AAPL"}, nil)
	assert.Equal(t, helpers.KindUnauthorized, helpers.Kind(err))
}

func TestErrorMessagePayloads(t *testing.T) {
	t.Parallel()
	tests := []struct {
		body string
		kind helpers.ErrorKind
	}{
		{`{"Error Message":"Invalid API KEY. Please retry or visit our documentation."}`, helpers.KindUnauthorized},
		{`{"Error Message":"Limit Reach . Please upgrade your plan."}`, helpers.KindRateLimited},
		{`{"Error Message":"Something else."}`, helpers.KindProvider},
		{`[]`, helpers.KindEmptyData},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			nm := mocks.NewMockINetworkManager(ctrl)
			nm.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]byte(tt.body), nil)

			p := fmp.New(nm, base)
			_, _, err := p.Fetch(context.Background(), sm.EquityQuote, map[string]any{"symbol": "AAPL"}, creds)
			assert.Equal(t, tt.kind, helpers.Kind(err), "%v", err)
		})
	}
}

func TestEquityQuote_WarnsForMissingSymbols(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	nm := mocks.NewMockINetworkManager(ctrl)
	nm.EXPECT().
		Get(gomock.Any(), base+"/api/v3/quote/AAPL,ZZZZ", map[string]string{"apikey": "KEY"}, gomock.Nil()).
		Return([]byte(`[{"symbol":"AAPL","name":"Apple Inc.","price":181.18,"changesPercentage":-0.445,"change":-0.81,"marketCap":0,"previousClose":181.99}]`), nil)

	p := fmp.New(nm, base)
	res, warnings, err := p.Fetch(context.Background(), sm.EquityQuote, map[string]any{"symbol": "aapl,zzzz"}, creds)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "ZZZZ")

	rows := res.([]fmp.EquityQuoteData)
	require.Len(t, rows, 1)
	assert.Equal(t, 181.18, *rows[0].LastPrice)
	assert.Nil(t, rows[0].MarketCap)
	assert.InDelta(t, -0.00445, *rows[0].ChangePercent, 1e-9)
}

func TestFetchersPassSelfTest(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	nm := mocks.NewMockINetworkManager(ctrl)
	nm.EXPECT().Get(gomock.Any(), base+"/api/v3/historical-price-full/AAPL", gomock.Any(), gomock.Any()).Return([]byte(historicalJSON), nil)
	nm.EXPECT().Get(gomock.Any(), base+"/api/v3/historical-price-full/BTCUSD", gomock.Any(), gomock.Any()).Return([]byte(historicalJSON), nil)
	nm.EXPECT().Get(gomock.Any(), base+"/api/v3/quote/AAPL", gomock.Any(), gomock.Any()).Return([]byte(`[{"symbol":"AAPL","price":1}]`), nil)

	p := fmp.New(nm, base)
	params := map[string]map[string]any{
		sm.EquityHistorical: {"symbol": "AAPL", "start_date": "2024-01-04", "end_date": "2024-01-05"},
		sm.CryptoHistorical: {"symbol": "BTC-USD", "start_date": "2024-01-04", "end_date": "2024-01-05"},
		sm.EquityQuote:      {"symbol": "AAPL"},
	}
	for model, f := range p.FetcherDict {
		require.NoError(t, fetcher.Test(context.Background(), f, params[model], fetcher.Credentials{"fmp_api_key": "KEY"}), model)
	}
}
