package yfinance_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"market-platform/src/fetcher"
	"market-platform/src/helpers"
	"market-platform/src/logger"
	"market-platform/src/models"
	"market-platform/src/network"
	"market-platform/src/provider"
	"market-platform/src/providers/yfinance"
	sm "market-platform/src/standard_models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chartJSON = `{"chart":{"result":[{
  "meta":{"currency":"USD","symbol":"AAPL","exchangeName":"NMS","fullExchangeName":"NasdaqGS","longName":"Apple Inc.",
          "regularMarketPrice":187.5,"chartPreviousClose":185.0,"regularMarketDayHigh":188.0,"regularMarketDayLow":184.2,
          "regularMarketVolume":5000,"fiftyTwoWeekHigh":199.6,"fiftyTwoWeekLow":164.1},
  "timestamp":[1704292200,1704205800,1704378600],
  "events":{"dividends":{"1704292200":{"amount":0.24,"date":1704292200}}},
  "indicators":{
    "quote":[{"open":[184.2,187.1,null],"high":[185.8,188.4,183.0],"low":[183.4,183.9,180.9],
              "close":[184.25,185.64,181.91],"volume":[58414500,82488700,71983600]}],
    "adjclose":[{"adjclose":[183.7,185.1,181.4]}]}
}],"error":null}}`

type fakeYahoo struct {
	srv      *httptest.Server
	requests atomic.Int32
	lastPath atomic.Value
	lastQry  atomic.Value
}

func newFakeYahoo(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) *fakeYahoo {
	t.Helper()
	f := &fakeYahoo{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		f.lastPath.Store(r.URL.Path)
		f.lastQry.Store(r.URL.Query())
		handle(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func newProvider(t *testing.T, f *fakeYahoo) *provider.Provider {
	t.Helper()
	cfg := &models.MConfig{Network: models.MNetworkConfig{RequestTimeout: 5, ConcurrentRequests: 2}}
	nm := network.NewAsyncNetworkManager(cfg, logger.NewLogger(cfg, "NetworkTest"))
	return yfinance.New(nm, f.srv.URL)
}

func serveChart(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(chartJSON))
}

// -----------------------------------------------------------------------------

func TestEquityHistorical(t *testing.T) {
	t.Parallel()
	f := newFakeYahoo(t, serveChart)
	p := newProvider(t, f)

	res, warnings, err := p.Fetch(context.Background(), sm.EquityHistorical, map[string]any{
		"symbol": "aapl", "start_date": "2024-01-02", "end_date": "2024-01-05", "interval": "1W",
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, "/v8/finance/chart/AAPL", f.lastPath.Load())
	q := f.lastQry.Load().(url.Values)
	assert.Equal(t, []string{"1wk"}, q["interval"])
	assert.Equal(t, []string{"1704153600"}, q["period1"])
	assert.Equal(t, []string{"1704499200"}, q["period2"])

	rows := res.([]yfinance.EquityHistoricalData)
	require.Len(t, rows, 2, "the bar with a null open is dropped")
	assert.True(t, rows[0].Date.Before(rows[1].Date))
	assert.Equal(t, 185.64, rows[0].Close)
	assert.Equal(t, 184.25, rows[1].Close)
	require.NotNil(t, rows[1].Dividend)
	assert.Equal(t, 0.24, *rows[1].Dividend)
	assert.Nil(t, rows[0].Dividend)
	require.NotNil(t, rows[1].AdjClose)
	assert.Equal(t, 183.7, *rows[1].AdjClose)
}

func TestEquityHistorical_NoSessionSkipsRequest(t *testing.T) {
	t.Parallel()
	f := newFakeYahoo(t, serveChart)
	p := newProvider(t, f)

	_, _, err := p.Fetch(context.Background(), sm.EquityHistorical, map[string]any{
		"symbol": "AAPL", "start_date": "2024-01-06", "end_date": "2024-01-07",
	}, nil)
	assert.Equal(t, helpers.KindEmptyData, helpers.Kind(err))
	assert.Zero(t, f.requests.Load())
}

func TestEquityHistorical_UpstreamErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
		kind   helpers.ErrorKind
	}{
		{"delisted", http.StatusNotFound, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`, helpers.KindEmptyData},
		{"throttled", http.StatusTooManyRequests, ``, helpers.KindRateLimited},
		{"blocked", http.StatusUnauthorized, ``, helpers.KindUnauthorized},
		{"chart error", http.StatusOK, `{"chart":{"result":null,"error":{"code":"Bad Request","description":"Invalid input"}}}`, helpers.KindProvider},
		{"garbage", http.StatusOK, `<html>`, helpers.KindProvider},
		{"misaligned", http.StatusOK, `{"chart":{"result":[{"meta":{"symbol":"AAPL"},"timestamp":[1,2],"indicators":{"quote":[{"open":[1],"high":[1],"low":[1],"close":[1],"volume":[1]}]}}]}}`, helpers.KindProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFakeYahoo(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			p := newProvider(t, f)
			_, _, err := p.Fetch(context.Background(), sm.EquityHistorical, map[string]any{
				"symbol": "AAPL", "start_date": "2024-01-02", "end_date": "2024-01-05",
			}, nil)
			assert.Equal(t, tt.kind, helpers.Kind(err), "%v", err)
		})
	}
}

// -----------------------------------------------------------------------------

func TestEquityQuote_PartialFailureWarns(t *testing.T) {
	t.Parallel()
	f := newFakeYahoo(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/NOPE") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		serveChart(w, r)
	})
	p := newProvider(t, f)

	res, warnings, err := p.Fetch(context.Background(), sm.EquityQuote, map[string]any{"symbol": "aapl,nope"}, nil)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "NOPE")

	rows := res.([]yfinance.EquityQuoteData)
	require.Len(t, rows, 1)
	q := rows[0]
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, "Apple Inc.", *q.Name)
	assert.Equal(t, "NasdaqGS", *q.Exchange)
	assert.Equal(t, "USD", *q.Currency)
	assert.InDelta(t, 2.5, *q.Change, 1e-9)
	assert.InDelta(t, 2.5/185.0, *q.ChangePercent, 1e-9)
	assert.Nil(t, q.Bid, "absent fields stay nil")
}

func TestEquityQuote_AllFail(t *testing.T) {
	t.Parallel()
	f := newFakeYahoo(t, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) })
	p := newProvider(t, f)

	_, _, err := p.Fetch(context.Background(), sm.EquityQuote, map[string]any{"symbol": "AAPL,MSFT"}, nil)
	assert.Equal(t, helpers.KindRateLimited, helpers.Kind(err))
}

// -----------------------------------------------------------------------------

func TestFetchersPassSelfTest(t *testing.T) {
	t.Parallel()
	f := newFakeYahoo(t, serveChart)
	p := newProvider(t, f)

	params := map[string]map[string]any{
		sm.EquityHistorical:   {"symbol": "AAPL", "start_date": "2024-01-02", "end_date": "2024-01-05"},
		sm.EquityQuote:        {"symbol": "AAPL"},
		sm.CryptoHistorical:   {"symbol": "BTCUSD", "start_date": "2024-01-02", "end_date": "2024-01-05"},
		sm.CurrencyHistorical: {"symbol": "EURUSD", "start_date": "2024-01-02", "end_date": "2024-01-05"},
	}
	for model, ft := range p.FetcherDict {
		require.NoError(t, fetcher.Test(context.Background(), ft, params[model], nil), model)
	}
}

func TestSymbolMapping(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "BTC-USD", yfinance.CryptoSymbol("btcusd"))
	assert.Equal(t, "ETH-USDT", yfinance.CryptoSymbol("ETHUSDT"))
	assert.Equal(t, "BTC-EUR", yfinance.CryptoSymbol("BTC/EUR"))
	assert.Equal(t, "EURUSD=X", yfinance.CurrencySymbol("eur/usd"))
	assert.Equal(t, "GBPJPY=X", yfinance.CurrencySymbol("GBPJPY=X"))
}
