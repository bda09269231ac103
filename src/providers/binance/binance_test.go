package binance_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"market-platform/src/fetcher"
	"market-platform/src/helpers"
	"market-platform/src/providers/binance"
	sm "market-platform/src/standard_models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// klineRow renders one /api/v3/klines element.
func klineRow(open time.Time, price float64) []any {
	p := strconv.FormatFloat(price, 'f', 2, 64)
	return []any{open.UnixMilli(), p, p, p, p, "10.5", open.Add(time.Minute).UnixMilli() - 1, "1050.0", 42, "5.0", "500.0", "0"}
}

type fakeKlines struct {
	srv *httptest.Server

	mu     sync.Mutex
	starts []int64
	query  map[string]string
}

func newFakeKlines(t *testing.T, handle func(w http.ResponseWriter, start int64)) *fakeKlines {
	t.Helper()
	f := &fakeKlines{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			http.NotFound(w, r)
			return
		}
		start, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		f.mu.Lock()
		f.starts = append(f.starts, start)
		f.query = map[string]string{}
		for k := range r.URL.Query() {
			f.query[k] = r.URL.Query().Get(k)
		}
		f.mu.Unlock()
		handle(w, start)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// -----------------------------------------------------------------------------

func TestCryptoHistorical(t *testing.T) {
	t.Parallel()
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	f := newFakeKlines(t, func(w http.ResponseWriter, _ int64) {
		writeJSON(w, http.StatusOK, [][]any{klineRow(day, 42000), klineRow(day.AddDate(0, 0, 1), 43000)})
	})
	p := binance.New(binance.Options{BaseURL: f.srv.URL, RequestsPerSecond: 1000})

	res, _, err := p.Fetch(context.Background(), sm.CryptoHistorical, map[string]any{
		"symbol": "btc-usdt", "start_date": "2024-01-02", "end_date": "2024-01-03",
	}, nil)
	require.NoError(t, err)

	f.mu.Lock()
	assert.Equal(t, "BTCUSDT", f.query["symbol"])
	assert.Equal(t, "1d", f.query["interval"])
	assert.Equal(t, fmt.Sprint(day.UnixMilli()), f.query["startTime"])
	assert.Equal(t, fmt.Sprint(day.AddDate(0, 0, 2).UnixMilli()-1), f.query["endTime"])
	f.mu.Unlock()

	rows := res.([]binance.CryptoHistoricalData)
	require.Len(t, rows, 2)
	assert.Equal(t, day, rows[0].Date)
	assert.Equal(t, 42000.0, rows[0].Close)
	assert.Equal(t, 10.5, *rows[0].Volume)
	assert.Equal(t, 1050.0, *rows[0].QuoteVolume)
	assert.Equal(t, int64(42), *rows[1].Trades)
}

func TestCryptoHistorical_Pages(t *testing.T) {
	t.Parallel()
	first := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	f := newFakeKlines(t, func(w http.ResponseWriter, start int64) {
		from := time.UnixMilli(start).UTC()
		n := 1000
		if from.After(first) {
			n = 3
		}
		rows := make([][]any, n)
		for i := range rows {
			rows[i] = klineRow(from.Add(time.Duration(i)*time.Minute), 1)
		}
		writeJSON(w, http.StatusOK, rows)
	})
	p := binance.New(binance.Options{BaseURL: f.srv.URL, RequestsPerSecond: 1000})

	res, _, err := p.Fetch(context.Background(), sm.CryptoHistorical, map[string]any{
		"symbol": "BTCUSDT", "start_date": "2024-01-02", "end_date": "2024-01-02", "interval": "1m",
	}, nil)
	require.NoError(t, err)
	assert.Len(t, res.([]binance.CryptoHistoricalData), 1003)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.starts, 2)
	assert.Equal(t, first.Add(999*time.Minute).UnixMilli()+1, f.starts[1], "the next page starts after the last open time")
}

func TestCryptoHistorical_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   any
		kind   helpers.ErrorKind
	}{
		{"weight exceeded", http.StatusTooManyRequests, map[string]any{"code": -1003, "msg": "Too many requests."}, helpers.KindRateLimited},
		{"bad symbol", http.StatusBadRequest, map[string]any{"code": -1121, "msg": "Invalid symbol."}, helpers.KindValidation},
		{"other", http.StatusBadRequest, map[string]any{"code": -1100, "msg": "Illegal characters found."}, helpers.KindProvider},
		{"empty", http.StatusOK, []any{}, helpers.KindEmptyData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFakeKlines(t, func(w http.ResponseWriter, _ int64) { writeJSON(w, tt.status, tt.body) })
			p := binance.New(binance.Options{BaseURL: f.srv.URL, RequestsPerSecond: 1000})
			_, _, err := p.Fetch(context.Background(), sm.CryptoHistorical, map[string]any{
				"symbol": "BTCUSDT", "start_date": "2024-01-02", "end_date": "2024-01-03",
			}, nil)
			assert.Equal(t, tt.kind, helpers.Kind(err), "%v", err)
		})
	}
}

func TestCryptoHistoricalPassesSelfTest(t *testing.T) {
	t.Parallel()
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	f := newFakeKlines(t, func(w http.ResponseWriter, _ int64) {
		writeJSON(w, http.StatusOK, [][]any{klineRow(day, 1)})
	})
	p := binance.New(binance.Options{BaseURL: f.srv.URL, RequestsPerSecond: 1000})
	err := fetcher.Test(context.Background(), p.FetcherDict[sm.CryptoHistorical],
		map[string]any{"symbol": "BTCUSDT", "start_date": "2024-01-02", "end_date": "2024-01-02"}, nil)
	require.NoError(t, err)
}

func TestSymbol(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "BTCUSDT", binance.Symbol("btc-usdt"))
	assert.Equal(t, "ETHBTC", binance.Symbol(" eth/btc "))
}
