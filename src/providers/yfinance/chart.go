package yfinance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"market-platform/src/helpers"

	"cloud.google.com/go/civil"
)

// chartResponse is the subset of the v8 chart payload the fetchers read.
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta      chartMeta `json:"meta"`
	Timestamp []int64   `json:"timestamp"`
	Events    struct {
		Dividends map[string]struct {
			Amount float64 `json:"amount"`
			Date   int64   `json:"date"`
		} `json:"dividends"`
		Splits map[string]struct {
			Date        int64   `json:"date"`
			Numerator   float64 `json:"numerator"`
			Denominator float64 `json:"denominator"`
		} `json:"splits"`
	} `json:"events"`
	Indicators struct {
		Quote []struct {
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Open   []*float64 `json:"open"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

type chartMeta struct {
	Currency             string   `json:"currency"`
	Symbol               string   `json:"symbol"`
	ExchangeName         string   `json:"exchangeName"`
	FullExchangeName     string   `json:"fullExchangeName"`
	InstrumentType       string   `json:"instrumentType"`
	LongName             string   `json:"longName"`
	ShortName            string   `json:"shortName"`
	RegularMarketTime    int64    `json:"regularMarketTime"`
	ExchangeTimezoneName string   `json:"exchangeTimezoneName"`
	RegularMarketPrice   *float64 `json:"regularMarketPrice"`
	RegularMarketDayHigh *float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow  *float64 `json:"regularMarketDayLow"`
	RegularMarketVolume  *float64 `json:"regularMarketVolume"`
	ChartPreviousClose   *float64 `json:"chartPreviousClose"`
	PreviousClose        *float64 `json:"previousClose"`
	FiftyTwoWeekHigh     *float64 `json:"fiftyTwoWeekHigh"`
	FiftyTwoWeekLow      *float64 `json:"fiftyTwoWeekLow"`
}

// chartBar is one cleaned OHLCV point of a chart response.
type chartBar struct {
	Date       time.Time `json:"date"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	AdjClose   *float64  `json:"adj_close,omitempty"`
	Dividend   *float64  `json:"dividend,omitempty"`
	SplitRatio *float64  `json:"split_ratio,omitempty"`
}

// -----------------------------------------------------------------------------

// chartRequest describes one call to the chart endpoint. Range wins over the
// date window when set.
type chartRequest struct {
	Symbol         string
	Interval       string
	Start, End     civil.Date
	Range          string
	IncludePrePost bool
}

func (p *client) chart(ctx context.Context, req chartRequest) (*chartResult, error) {
	params := map[string]string{
		"interval":       yahooInterval(req.Interval),
		"includePrePost": strconv.FormatBool(req.IncludePrePost),
		"events":         "div,splits",
	}
	if req.Range != "" {
		params["range"] = req.Range
	} else {
		params["period1"] = strconv.FormatInt(req.Start.In(time.UTC).Unix(), 10)
		// end date is inclusive
		params["period2"] = strconv.FormatInt(req.End.AddDays(1).In(time.UTC).Unix(), 10)
	}

	body, err := p.network.Get(ctx, p.baseURL+"/v8/finance/chart/"+url.PathEscape(req.Symbol), params, nil)
	if err != nil {
		var perr *helpers.ProviderError
		if errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound {
			return nil, helpers.NewEmptyDataError("no data found for %s, symbol may be delisted", req.Symbol)
		}
		return nil, err
	}
	return decodeChart(req.Symbol, body)
}

// -----------------------------------------------------------------------------

func decodeChart(symbol string, body []byte) (*chartResult, error) {
	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, helpers.NewProviderError(Name, 0, err, "malformed chart payload for %s", symbol)
	}
	if e := resp.Chart.Error; e != nil {
		if e.Code == "Not Found" {
			return nil, helpers.NewEmptyDataError("%s: %s", symbol, e.Description)
		}
		return nil, helpers.NewProviderError(Name, 0, nil, "%s: %s", e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, helpers.NewEmptyDataError("no result in response for %s", symbol)
	}
	return &resp.Chart.Result[0], nil
}

// -----------------------------------------------------------------------------

// bars validates the parallel arrays of r and returns its complete points in
// ascending time order. Points with a missing value or a non-positive close
// are skipped.
func (r *chartResult) bars() ([]chartBar, error) {
	if len(r.Timestamp) == 0 {
		return nil, helpers.NewEmptyDataError("no timestamps in response for %s", r.Meta.Symbol)
	}
	if len(r.Indicators.Quote) == 0 {
		return nil, helpers.NewEmptyDataError("no quote data in response for %s", r.Meta.Symbol)
	}
	q := r.Indicators.Quote[0]
	n := len(r.Timestamp)
	if len(q.Open) != n || len(q.High) != n || len(q.Low) != n || len(q.Close) != n || len(q.Volume) != n {
		return nil, helpers.NewProviderError(Name, 0, nil, "data alignment error for %s", r.Meta.Symbol)
	}
	var adj []*float64
	if len(r.Indicators.AdjClose) > 0 && len(r.Indicators.AdjClose[0].AdjClose) == n {
		adj = r.Indicators.AdjClose[0].AdjClose
	}

	dividends := make(map[int64]float64, len(r.Events.Dividends))
	for _, d := range r.Events.Dividends {
		dividends[d.Date] = d.Amount
	}
	splits := make(map[int64]float64, len(r.Events.Splits))
	for _, s := range r.Events.Splits {
		if s.Denominator != 0 {
			splits[s.Date] = s.Numerator / s.Denominator
		}
	}

	out := make([]chartBar, 0, n)
	for i, ts := range r.Timestamp {
		if q.Open[i] == nil || q.High[i] == nil || q.Low[i] == nil || q.Close[i] == nil || *q.Close[i] <= 0 {
			continue
		}
		b := chartBar{
			Date:  time.Unix(ts, 0).UTC(),
			Open:  *q.Open[i],
			High:  *q.High[i],
			Low:   *q.Low[i],
			Close: *q.Close[i],
		}
		if q.Volume[i] != nil && *q.Volume[i] >= 0 {
			b.Volume = *q.Volume[i]
		}
		if adj != nil && adj[i] != nil {
			b.AdjClose = adj[i]
		}
		if v, ok := dividends[ts]; ok {
			b.Dividend = &v
		}
		if v, ok := splits[ts]; ok {
			b.SplitRatio = &v
		}
		out = append(out, b)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	if len(out) == 0 {
		return nil, helpers.NewEmptyDataError("no valid data points for %s", r.Meta.Symbol)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// yahooInterval maps the public interval names onto the chart endpoint's.
func yahooInterval(interval string) string {
	switch interval {
	case "1h":
		return "60m"
	case "1W":
		return "1wk"
	case "":
		return "1d"
	}
	return interval
}

// -----------------------------------------------------------------------------

func ptr[T any](v T) *T { return &v }

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
