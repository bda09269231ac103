package fmp

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"

	"market-platform/src/fetcher"
	"market-platform/src/helpers"
	"market-platform/src/interfaces"
	"market-platform/src/network"
	"market-platform/src/provider"
	sm "market-platform/src/standard_models"

	"github.com/tidwall/gjson"
)

const (
	Name    = "fmp"
	BaseURL = "https://financialmodelingprep.com"
)

// APIKey is the credential the fetchers read.
var APIKey = provider.CredentialNames(Name, "api_key")[0]

// Extension is the manifest entry of the Financial Modeling Prep provider.
var Extension = provider.Extension{
	Name: Name,
	Load: func() (*provider.Provider, error) {
		return New(network.Default(), BaseURL), nil
	},
}

var newYork = mustLocation("America/New_York")

type client struct {
	network interfaces.INetworkManager
	baseURL string
}

// bar is one row of the historical-price-full and historical-chart payloads.
type bar struct {
	Date             string   `json:"date"`
	Open             float64  `json:"open"`
	High             float64  `json:"high"`
	Low              float64  `json:"low"`
	Close            float64  `json:"close"`
	AdjClose         *float64 `json:"adjClose"`
	Volume           float64  `json:"volume"`
	UnadjustedVolume *float64 `json:"unadjustedVolume"`
	Change           *float64 `json:"change"`
	ChangePercent    *float64 `json:"changePercent"`
	VWAP             *float64 `json:"vwap"`
}

// quote is one element of the quote payload.
type quote struct {
	Symbol            string   `json:"symbol"`
	Name              *string  `json:"name"`
	Exchange          *string  `json:"exchange"`
	Price             *float64 `json:"price"`
	Open              *float64 `json:"open"`
	DayHigh           *float64 `json:"dayHigh"`
	DayLow            *float64 `json:"dayLow"`
	PreviousClose     *float64 `json:"previousClose"`
	Volume            *float64 `json:"volume"`
	AvgVolume         *float64 `json:"avgVolume"`
	MarketCap         *float64 `json:"marketCap"`
	YearHigh          *float64 `json:"yearHigh"`
	YearLow           *float64 `json:"yearLow"`
	Change            *float64 `json:"change"`
	ChangesPercentage *float64 `json:"changesPercentage"`
}

// -----------------------------------------------------------------------------

// New builds the provider on top of nm. Every fetcher needs fmp_api_key.
func New(nm interfaces.INetworkManager, baseURL string) *provider.Provider {
	c := &client{network: nm, baseURL: strings.TrimRight(baseURL, "/")}
	return &provider.Provider{
		Name:               Name,
		Description:        "Financial Modeling Prep REST API.",
		Website:            "https://financialmodelingprep.com",
		Credentials:        []string{APIKey},
		RequireCredentials: true,
		FetcherDict: map[string]fetcher.Fetcher{
			sm.EquityHistorical: fetcher.MustNew(c.equityHistorical()),
			sm.EquityQuote:      fetcher.MustNew(c.equityQuote()),
			sm.CryptoHistorical: fetcher.MustNew(c.cryptoHistorical()),
		},
	}
}

// -----------------------------------------------------------------------------

// get calls an FMP endpoint. FMP reports quota and key problems as a 200
// with an "Error Message" object; those are mapped onto the error taxonomy.
func (c *client) get(ctx context.Context, path string, params map[string]string, creds fetcher.Credentials) ([]byte, error) {
	if params == nil {
		params = map[string]string{}
	}
	params["apikey"] = creds[APIKey]

	body, err := c.network.Get(ctx, c.baseURL+path, params, nil)
	if err != nil {
		return nil, err
	}
	if msg := gjson.GetBytes(body, "Error Message"); msg.Exists() {
		text := msg.String()
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(lower, "limit reach"):
			return nil, helpers.NewRateLimitError(0, "%s: %s", Name, text)
		case strings.Contains(lower, "api key"):
			return nil, helpers.NewUnauthorizedError("%s: %s", Name, text)
		}
		return nil, helpers.NewProviderError(Name, 0, nil, "%s", text)
	}
	return body, nil
}

// -----------------------------------------------------------------------------

func (c *client) historical(ctx context.Context, symbol, interval string, start, end string, creds fetcher.Credentials) ([]bar, error) {
	params := map[string]string{"from": start, "to": end}
	var (
		rows []bar
		path string
	)
	if interval == "" || interval == "1d" {
		path = "/api/v3/historical-price-full/" + url.PathEscape(symbol)
		body, err := c.get(ctx, path, params, creds)
		if err != nil {
			return nil, err
		}
		var payload struct {
			Historical []bar `json:"historical"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, helpers.NewProviderError(Name, 0, err, "malformed historical payload for %s", symbol)
		}
		rows = payload.Historical
	} else {
		path = "/api/v3/historical-chart/" + fmpInterval(interval) + "/" + url.PathEscape(symbol)
		body, err := c.get(ctx, path, params, creds)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, helpers.NewProviderError(Name, 0, err, "malformed chart payload for %s", symbol)
		}
	}
	if len(rows) == 0 {
		return nil, helpers.NewEmptyDataError("no data returned for %s", symbol)
	}
	return rows, nil
}

// -----------------------------------------------------------------------------

func (c *client) equityHistorical() fetcher.Definition[EquityHistoricalQueryParams, []bar, []EquityHistoricalData] {
	return fetcher.Definition[EquityHistoricalQueryParams, []bar, []EquityHistoricalData]{
		ExtractData: func(ctx context.Context, q *EquityHistoricalQueryParams, creds fetcher.Credentials) ([]bar, error) {
			return c.historical(ctx, q.Symbol, q.Interval, q.StartDate.String(), q.EndDate.String(), creds)
		},
		TransformData: func(q *EquityHistoricalQueryParams, raw []bar) ([]EquityHistoricalData, error) {
			if len(raw) == 0 {
				return nil, helpers.NewEmptyDataError("nothing to transform for %s", q.Symbol)
			}
			out := make([]EquityHistoricalData, 0, len(raw))
			for _, b := range raw {
				date, err := parseDate(b.Date)
				if err != nil {
					return nil, err
				}
				d := EquityHistoricalData{
					EquityHistoricalData: sm.EquityHistoricalData{
						Date: date, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close,
						Volume: &b.Volume, VWAP: b.VWAP,
					},
					AdjClose:         b.AdjClose,
					UnadjustedVolume: b.UnadjustedVolume,
					Change:           b.Change,
					ChangePercent:    percent(b.ChangePercent),
				}
				if err := sm.Normalize(&d); err != nil {
					return nil, err
				}
				out = append(out, d)
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
			return out, nil
		},
	}
}

// -----------------------------------------------------------------------------

func (c *client) cryptoHistorical() fetcher.Definition[CryptoHistoricalQueryParams, []bar, []CryptoHistoricalData] {
	return fetcher.Definition[CryptoHistoricalQueryParams, []bar, []CryptoHistoricalData]{
		ExtractData: func(ctx context.Context, q *CryptoHistoricalQueryParams, creds fetcher.Credentials) ([]bar, error) {
			symbol := strings.NewReplacer("-", "", "/", "", "_", "").Replace(q.Symbol)
			return c.historical(ctx, symbol, "1d", q.StartDate.String(), q.EndDate.String(), creds)
		},
		TransformData: func(q *CryptoHistoricalQueryParams, raw []bar) ([]CryptoHistoricalData, error) {
			if len(raw) == 0 {
				return nil, helpers.NewEmptyDataError("nothing to transform for %s", q.Symbol)
			}
			out := make([]CryptoHistoricalData, 0, len(raw))
			for _, b := range raw {
				date, err := parseDate(b.Date)
				if err != nil {
					return nil, err
				}
				out = append(out, CryptoHistoricalData{
					CryptoHistoricalData: sm.CryptoHistoricalData{
						Date: date, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close,
						Volume: &b.Volume, VWAP: b.VWAP,
					},
					AdjClose: b.AdjClose,
				})
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
			return out, nil
		},
	}
}

// -----------------------------------------------------------------------------

func (c *client) equityQuote() fetcher.Definition[EquityQuoteQueryParams, []quote, []EquityQuoteData] {
	return fetcher.Definition[EquityQuoteQueryParams, []quote, []EquityQuoteData]{
		ExtractData: func(ctx context.Context, q *EquityQuoteQueryParams, creds fetcher.Credentials) ([]quote, error) {
			body, err := c.get(ctx, "/api/v3/quote/"+strings.ReplaceAll(q.Symbol, " ", ""), nil, creds)
			if err != nil {
				return nil, err
			}
			var rows []quote
			if err := json.Unmarshal(body, &rows); err != nil {
				return nil, helpers.NewProviderError(Name, 0, err, "malformed quote payload")
			}
			if len(rows) == 0 {
				return nil, helpers.NewEmptyDataError("no quotes returned for %s", q.Symbol)
			}
			returned := make(map[string]bool, len(rows))
			for _, r := range rows {
				returned[strings.ToUpper(r.Symbol)] = true
			}
			for _, s := range strings.Split(q.Symbol, ",") {
				if s = strings.TrimSpace(s); s != "" && !returned[s] {
					fetcher.Warn(ctx, "no quote returned for %s", s)
				}
			}
			return rows, nil
		},
		TransformData: func(q *EquityQuoteQueryParams, raw []quote) ([]EquityQuoteData, error) {
			if len(raw) == 0 {
				return nil, helpers.NewEmptyDataError("nothing to transform for %s", q.Symbol)
			}
			out := make([]EquityQuoteData, len(raw))
			for i, r := range raw {
				d := EquityQuoteData{
					EquityQuoteData: sm.EquityQuoteData{
						Symbol:        r.Symbol,
						Name:          r.Name,
						Exchange:      r.Exchange,
						LastPrice:     r.Price,
						Open:          r.Open,
						High:          r.DayHigh,
						Low:           r.DayLow,
						PrevClose:     r.PreviousClose,
						Volume:        r.Volume,
						Change:        r.Change,
						ChangePercent: percent(r.ChangesPercentage),
					},
					MarketCap: r.MarketCap,
					AvgVolume: r.AvgVolume,
					YearHigh:  r.YearHigh,
					YearLow:   r.YearLow,
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

func fmpInterval(interval string) string {
	switch interval {
	case "1m":
		return "1min"
	case "5m":
		return "5min"
	case "15m":
		return "15min"
	case "30m":
		return "30min"
	case "1h":
		return "1hour"
	case "4h":
		return "4hour"
	}
	return interval
}

// parseDate reads daily dates as UTC midnight and intraday stamps as New
// York exchange time.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateTime, s, newYork)
	if err != nil {
		return time.Time{}, helpers.NewProviderError(Name, 0, err, "unparseable date %q", s)
	}
	return t, nil
}

// percent turns FMP's 1.5 (meaning 1.5%) into 0.015.
func percent(v *float64) *float64 {
	if v == nil {
		return nil
	}
	p := *v / 100
	return &p
}

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
