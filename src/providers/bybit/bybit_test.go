package bybit_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"market-platform/src/fetcher"
	"market-platform/src/helpers"
	"market-platform/src/providers/bybit"
	sm "market-platform/src/standard_models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(start time.Time, price float64) []string {
	p := strconv.FormatFloat(price, 'f', 2, 64)
	return []string{strconv.FormatInt(start.UnixMilli(), 10), p, p, p, p, "3.5", "0"}
}

func envelope(code int, msg string, rows [][]string) map[string]any {
	return map[string]any{
		"retCode": code,
		"retMsg":  msg,
		"result":  map[string]any{"category": "spot", "symbol": "BTCUSDT", "list": rows},
		"time":    1704153600000,
	}
}

type fakeBybit struct {
	srv *httptest.Server

	mu      sync.Mutex
	queries []url.Values
}

func newFakeBybit(t *testing.T, handle func(q url.Values) any) *fakeBybit {
	t.Helper()
	f := &fakeBybit{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/kline" {
			http.NotFound(w, r)
			return
		}
		f.mu.Lock()
		f.queries = append(f.queries, r.URL.Query())
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(handle(r.URL.Query()))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

// -----------------------------------------------------------------------------

func TestCryptoHistorical(t *testing.T) {
	t.Parallel()
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	f := newFakeBybit(t, func(url.Values) any {
		return envelope(0, "OK", [][]string{row(day.AddDate(0, 0, 1), 43000), row(day, 42000)})
	})
	p := bybit.New(f.srv.URL, nil)

	res, _, err := p.Fetch(context.Background(), sm.CryptoHistorical, map[string]any{
		"symbol": "btc-usdt", "start_date": "2024-01-02", "end_date": "2024-01-03",
	}, nil)
	require.NoError(t, err)

	f.mu.Lock()
	q := f.queries[0]
	f.mu.Unlock()
	assert.Equal(t, "spot", q.Get("category"))
	assert.Equal(t, "BTCUSDT", q.Get("symbol"))
	assert.Equal(t, "D", q.Get("interval"))
	assert.Equal(t, strconv.FormatInt(day.UnixMilli(), 10), q.Get("start"))

	rows := res.([]bybit.CryptoHistoricalData)
	require.Len(t, rows, 2)
	assert.Equal(t, day, rows[0].Date, "rows come back oldest first")
	assert.Equal(t, 42000.0, rows[0].Close)
	assert.Equal(t, 3.5, *rows[1].Volume)
	assert.Nil(t, rows[0].Turnover, "zero turnover is normalized to nil")
}

func TestCryptoHistorical_PagesBackwards(t *testing.T) {
	t.Parallel()
	last := time.Date(2024, 1, 2, 23, 59, 0, 0, time.UTC)
	f := newFakeBybit(t, func(q url.Values) any {
		end, _ := strconv.ParseInt(q.Get("end"), 10, 64)
		n := 1000
		if end < last.UnixMilli() {
			n = 2
		}
		top := time.UnixMilli(end).UTC().Truncate(time.Minute)
		rows := make([][]string, n)
		for i := range rows {
			rows[i] = row(top.Add(-time.Duration(i)*time.Minute), 1)
		}
		return envelope(0, "OK", rows)
	})
	p := bybit.New(f.srv.URL, nil)

	res, _, err := p.Fetch(context.Background(), sm.CryptoHistorical, map[string]any{
		"symbol": "BTCUSDT", "start_date": "2024-01-02", "end_date": "2024-01-02", "interval": "1m",
	}, nil)
	require.NoError(t, err)
	rows := res.([]bybit.CryptoHistoricalData)
	require.Len(t, rows, 1002)
	assert.True(t, rows[0].Date.Before(rows[len(rows)-1].Date))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.queries, 2)
	assert.Equal(t, "1", f.queries[0].Get("interval"))
	assert.Equal(t, strconv.FormatInt(last.Add(-999*time.Minute).UnixMilli()-1, 10), f.queries[1].Get("end"))
}

func TestCryptoHistorical_RetCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		code int
		kind helpers.ErrorKind
	}{
		{"rate limited", 10006, helpers.KindRateLimited},
		{"bad params", 10001, helpers.KindValidation},
		{"unknown", 170001, helpers.KindProvider},
		{"empty list", 0, helpers.KindEmptyData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFakeBybit(t, func(url.Values) any { return envelope(tt.code, "message", nil) })
			p := bybit.New(f.srv.URL, nil)
			_, _, err := p.Fetch(context.Background(), sm.CryptoHistorical, map[string]any{
				"symbol": "BTCUSDT", "start_date": "2024-01-02", "end_date": "2024-01-03",
			}, nil)
			assert.Equal(t, tt.kind, helpers.Kind(err), "%v", err)
		})
	}
}

func TestCryptoHistoricalPassesSelfTest(t *testing.T) {
	t.Parallel()
	f := newFakeBybit(t, func(url.Values) any {
		return envelope(0, "OK", [][]string{row(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), 1)})
	})
	p := bybit.New(f.srv.URL, nil)
	require.NoError(t, fetcher.Test(context.Background(), p.FetcherDict[sm.CryptoHistorical],
		map[string]any{"symbol": "BTCUSDT", "start_date": "2024-01-02", "end_date": "2024-01-02"}, nil))
}
