package bybit

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"market-platform/src/fetcher"
	"market-platform/src/helpers"
	"market-platform/src/logger"
	"market-platform/src/provider"
	sm "market-platform/src/standard_models"

	bybitapi "github.com/bybit-exchange/bybit.go.api"
	"github.com/tidwall/gjson"
)

const (
	Name    = "bybit"
	BaseURL = "https://api.bybit.com"

	klineLimit = 1000
)

// Extension is the manifest entry of the Bybit provider.
var Extension = provider.Extension{
	Name: Name,
	Load: func() (*provider.Provider, error) {
		return New(BaseURL, nil), nil
	},
}

type client struct {
	api    *bybitapi.Client
	logger *logger.Logger
}

// kline is one element of the v5 kline list, already parsed.
type kline struct {
	Start    time.Time
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Turnover float64 `json:"turnover"`
}

// -----------------------------------------------------------------------------

// New builds the provider against baseURL. A nil httpClient gets a 30 second
// timeout.
func New(baseURL string, httpClient *http.Client) *provider.Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	api := bybitapi.NewBybitHttpClient("", "", bybitapi.WithBaseURL(strings.TrimRight(baseURL, "/")))
	api.HTTPClient = httpClient

	c := &client{api: api, logger: logger.NewLogger(nil, "Bybit")}
	return &provider.Provider{
		Name:        Name,
		Description: "Bybit v5 market data.",
		Website:     "https://www.bybit.com",
		FetcherDict: map[string]fetcher.Fetcher{
			sm.CryptoHistorical: fetcher.MustNew(c.cryptoHistorical()),
		},
	}
}

// -----------------------------------------------------------------------------

func (c *client) cryptoHistorical() fetcher.Definition[CryptoHistoricalQueryParams, []kline, []CryptoHistoricalData] {
	return fetcher.Definition[CryptoHistoricalQueryParams, []kline, []CryptoHistoricalData]{
		ExtractData: func(ctx context.Context, q *CryptoHistoricalQueryParams, _ fetcher.Credentials) ([]kline, error) {
			start := q.StartDate.In(time.UTC)
			end := q.EndDate.AddDays(1).In(time.UTC).Add(-time.Millisecond)
			return c.klines(ctx, q.Category, Symbol(q.Symbol), bybitInterval(q.Interval), start, end)
		},
		TransformData: func(q *CryptoHistoricalQueryParams, raw []kline) ([]CryptoHistoricalData, error) {
			if len(raw) == 0 {
				return nil, helpers.NewEmptyDataError("nothing to transform for %s", q.Symbol)
			}
			out := make([]CryptoHistoricalData, len(raw))
			for i, k := range raw {
				vol, turnover := k.Volume, k.Turnover
				d := CryptoHistoricalData{
					CryptoHistoricalData: sm.CryptoHistoricalData{
						Date: k.Start, Open: k.Open, High: k.High, Low: k.Low, Close: k.Close,
						Volume: &vol,
					},
					Turnover: &turnover,
				}
				if err := sm.Normalize(&d); err != nil {
					return nil, err
				}
				out[i] = d
			}
			return out, nil
		},
	}
}

// -----------------------------------------------------------------------------

// klines walks /v5/market/kline backwards from end. Bybit lists the newest
// bar first; the result is returned oldest first.
func (c *client) klines(ctx context.Context, category, symbol, interval string, start, end time.Time) ([]kline, error) {
	var out []kline
	from, until := start.UnixMilli(), end.UnixMilli()
	for until >= from {
		params := map[string]interface{}{
			"category": category,
			"symbol":   symbol,
			"interval": interval,
			"start":    strconv.FormatInt(from, 10),
			"end":      strconv.FormatInt(until, 10),
			"limit":    strconv.Itoa(klineLimit),
		}
		resp, err := c.api.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, helpers.NewProviderError(Name, 0, err, "kline request for %s failed", symbol)
		}
		if err := retCodeError(resp.RetCode, resp.RetMsg, symbol); err != nil {
			return nil, err
		}

		page, err := parseKlines(resp.Result)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < klineLimit {
			break
		}
		oldest := page[0].Start
		for _, k := range page {
			if k.Start.Before(oldest) {
				oldest = k.Start
			}
		}
		until = oldest.UnixMilli() - 1
	}

	c.logger.Debug("Fetched %d klines for %s/%s (%s)", len(out), category, symbol, interval)
	if len(out) == 0 {
		return nil, helpers.NewEmptyDataError("no klines returned for %s", symbol)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// -----------------------------------------------------------------------------

// retCodeError maps the v5 retCode of a 200 response.
func retCodeError(code int, msg, symbol string) error {
	switch code {
	case 0:
		return nil
	case 10006, 10018:
		return helpers.NewRateLimitError(0, "%s: %s", Name, msg)
	case 10003, 10004, 10005, 10010:
		return helpers.NewUnauthorizedError("%s: %s", Name, msg)
	case 10001:
		return helpers.NewValidationError("symbol", "%s: %s (%s)", Name, msg, symbol)
	}
	return helpers.NewProviderError(Name, 0, nil, "%s (retCode %d)", msg, code)
}

// parseKlines reads result.list, whose rows are string arrays of
// [start, open, high, low, close, volume, turnover].
func parseKlines(result interface{}) ([]kline, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, helpers.NewProviderError(Name, 0, err, "malformed kline result")
	}
	list := gjson.GetBytes(b, "list")
	if !list.Exists() {
		return nil, nil
	}

	var out []kline
	var bad error
	list.ForEach(func(_, row gjson.Result) bool {
		cols := row.Array()
		if len(cols) < 7 {
			bad = helpers.NewProviderError(Name, 0, nil, "kline row has %d columns", len(cols))
			return false
		}
		out = append(out, kline{
			Start:    time.UnixMilli(cols[0].Int()).UTC(),
			Open:     cols[1].Float(),
			High:     cols[2].Float(),
			Low:      cols[3].Float(),
			Close:    cols[4].Float(),
			Volume:   cols[5].Float(),
			Turnover: cols[6].Float(),
		})
		return true
	})
	return out, bad
}

// -----------------------------------------------------------------------------

// Symbol turns BTC-USDT or btc/usdt into Bybit's BTCUSDT.
func Symbol(s string) string {
	return strings.ToUpper(strings.NewReplacer("-", "", "/", "", "_", "").Replace(strings.TrimSpace(s)))
}

func bybitInterval(interval string) string {
	switch interval {
	case "1m":
		return "1"
	case "3m":
		return "3"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "30m":
		return "30"
	case "1h":
		return "60"
	case "2h":
		return "120"
	case "4h":
		return "240"
	case "6h":
		return "360"
	case "12h":
		return "720"
	case "1w":
		return "W"
	case "1mo":
		return "M"
	}
	return "D"
}
