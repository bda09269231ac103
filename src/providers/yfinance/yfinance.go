package yfinance

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"market-platform/src/fetcher"
	"market-platform/src/helpers"
	"market-platform/src/interfaces"
	"market-platform/src/logger"
	"market-platform/src/network"
	"market-platform/src/provider"
	sm "market-platform/src/standard_models"
	"market-platform/src/utils"

	"golang.org/x/sync/errgroup"
)

const (
	Name    = "yfinance"
	BaseURL = "https://query1.finance.yahoo.com"

	// quoteConcurrency caps parallel chart calls of one multi-symbol quote.
	quoteConcurrency = 4
)

// Extension is the manifest entry of the Yahoo Finance provider.
var Extension = provider.Extension{
	Name: Name,
	Load: func() (*provider.Provider, error) {
		return New(network.Default(), BaseURL), nil
	},
}

type client struct {
	network   interfaces.INetworkManager
	baseURL   string
	scheduler *utils.MarketScheduler
	logger    *logger.Logger
}

// -----------------------------------------------------------------------------

// New builds the provider on top of nm. baseURL points at the chart API host.
func New(nm interfaces.INetworkManager, baseURL string) *provider.Provider {
	log := logger.NewLogger(nil, "YahooFinance")
	c := &client{
		network:   nm,
		baseURL:   strings.TrimRight(baseURL, "/"),
		scheduler: utils.NewMarketScheduler(log),
		logger:    log,
	}
	return &provider.Provider{
		Name:        Name,
		Description: "Yahoo! Finance chart API. No credentials required.",
		Website:     "https://finance.yahoo.com",
		FetcherDict: map[string]fetcher.Fetcher{
			sm.EquityHistorical:   fetcher.MustNew(c.equityHistorical()),
			sm.EquityQuote:        fetcher.MustNew(c.equityQuote()),
			sm.CryptoHistorical:   fetcher.MustNew(c.cryptoHistorical()),
			sm.CurrencyHistorical: fetcher.MustNew(c.currencyHistorical()),
		},
	}
}

// -----------------------------------------------------------------------------

func (c *client) equityHistorical() fetcher.Definition[EquityHistoricalQueryParams, []chartBar, []EquityHistoricalData] {
	return fetcher.Definition[EquityHistoricalQueryParams, []chartBar, []EquityHistoricalData]{
		ExtractData: func(ctx context.Context, q *EquityHistoricalQueryParams, _ fetcher.Credentials) ([]chartBar, error) {
			start, end := *q.StartDate, *q.EndDate
			if !c.scheduler.HasSession(q.Symbol, start, end) {
				return nil, helpers.NewEmptyDataError("%s has no trading session between %s and %s", q.Symbol, start, end)
			}
			res, err := c.chart(ctx, chartRequest{
				Symbol:         q.Symbol,
				Interval:       q.Interval,
				Start:          start,
				End:            end,
				IncludePrePost: q.IncludePrePost,
			})
			if err != nil {
				return nil, err
			}
			return res.bars()
		},
		TransformData: func(q *EquityHistoricalQueryParams, raw []chartBar) ([]EquityHistoricalData, error) {
			if len(raw) == 0 {
				return nil, helpers.NewEmptyDataError("nothing to transform for %s", q.Symbol)
			}
			out := make([]EquityHistoricalData, len(raw))
			for i, b := range raw {
				out[i] = EquityHistoricalData{
					EquityHistoricalData: sm.EquityHistoricalData{
						Date: b.Date, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close,
						Volume: positive(b.Volume),
					},
					AdjClose:   b.AdjClose,
					Dividend:   b.Dividend,
					SplitRatio: b.SplitRatio,
				}
			}
			return out, nil
		},
	}
}

// -----------------------------------------------------------------------------

func (c *client) cryptoHistorical() fetcher.Definition[CryptoHistoricalQueryParams, []chartBar, []CryptoHistoricalData] {
	return fetcher.Definition[CryptoHistoricalQueryParams, []chartBar, []CryptoHistoricalData]{
		ExtractData: func(ctx context.Context, q *CryptoHistoricalQueryParams, _ fetcher.Credentials) ([]chartBar, error) {
			res, err := c.chart(ctx, chartRequest{Symbol: CryptoSymbol(q.Symbol), Interval: q.Interval, Start: *q.StartDate, End: *q.EndDate})
			if err != nil {
				return nil, err
			}
			return res.bars()
		},
		TransformData: func(q *CryptoHistoricalQueryParams, raw []chartBar) ([]CryptoHistoricalData, error) {
			if len(raw) == 0 {
				return nil, helpers.NewEmptyDataError("nothing to transform for %s", q.Symbol)
			}
			out := make([]CryptoHistoricalData, len(raw))
			for i, b := range raw {
				out[i].CryptoHistoricalData = sm.CryptoHistoricalData{
					Date: b.Date, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: positive(b.Volume),
				}
			}
			return out, nil
		},
	}
}

// -----------------------------------------------------------------------------

func (c *client) currencyHistorical() fetcher.Definition[CurrencyHistoricalQueryParams, []chartBar, []CurrencyHistoricalData] {
	return fetcher.Definition[CurrencyHistoricalQueryParams, []chartBar, []CurrencyHistoricalData]{
		ExtractData: func(ctx context.Context, q *CurrencyHistoricalQueryParams, _ fetcher.Credentials) ([]chartBar, error) {
			res, err := c.chart(ctx, chartRequest{Symbol: CurrencySymbol(q.Symbol), Interval: q.Interval, Start: *q.StartDate, End: *q.EndDate})
			if err != nil {
				return nil, err
			}
			return res.bars()
		},
		TransformData: func(q *CurrencyHistoricalQueryParams, raw []chartBar) ([]CurrencyHistoricalData, error) {
			if len(raw) == 0 {
				return nil, helpers.NewEmptyDataError("nothing to transform for %s", q.Symbol)
			}
			out := make([]CurrencyHistoricalData, len(raw))
			for i, b := range raw {
				out[i].CurrencyHistoricalData = sm.CurrencyHistoricalData{
					Date: b.Date, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: positive(b.Volume),
				}
			}
			return out, nil
		},
	}
}

// -----------------------------------------------------------------------------

// equityQuote reads the chart meta block of each symbol concurrently. A
// failed symbol becomes a warning; the call fails only when all of them do.
func (c *client) equityQuote() fetcher.Definition[EquityQuoteQueryParams, []chartMeta, []EquityQuoteData] {
	return fetcher.Definition[EquityQuoteQueryParams, []chartMeta, []EquityQuoteData]{
		ExtractData: func(ctx context.Context, q *EquityQuoteQueryParams, _ fetcher.Credentials) ([]chartMeta, error) {
			symbols := splitSymbols(q.Symbol)
			metas := make([]*chartMeta, len(symbols))

			var (
				mu     sync.Mutex
				failed []error
			)
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(quoteConcurrency)
			for i, sym := range symbols {
				g.Go(func() error {
					res, err := c.chart(gctx, chartRequest{Symbol: sym, Interval: "1d", Range: "1d"})
					if err != nil {
						if gctx.Err() != nil {
							return gctx.Err()
						}
						c.logger.Info("Error fetching quote for %s: %v", sym, err)
						fetcher.Warn(ctx, "%s: %v", sym, err)
						mu.Lock()
						failed = append(failed, err)
						mu.Unlock()
						return nil
					}
					if res.Meta.Symbol == "" {
						res.Meta.Symbol = sym
					}
					metas[i] = &res.Meta
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}

			out := make([]chartMeta, 0, len(symbols))
			for _, m := range metas {
				if m != nil {
					out = append(out, *m)
				}
			}
			c.logger.Debug("Fetched %d/%d quotes", len(out), len(symbols))
			if len(out) == 0 {
				if len(failed) > 0 {
					return nil, failed[0]
				}
				return nil, helpers.NewEmptyDataError("no quotes returned for %s", q.Symbol)
			}
			return out, nil
		},
		TransformData: func(q *EquityQuoteQueryParams, raw []chartMeta) ([]EquityQuoteData, error) {
			if len(raw) == 0 {
				return nil, helpers.NewEmptyDataError("nothing to transform for %s", q.Symbol)
			}
			out := make([]EquityQuoteData, len(raw))
			for i, m := range raw {
				prev := m.PreviousClose
				if prev == nil {
					prev = m.ChartPreviousClose
				}
				name := m.LongName
				if name == "" {
					name = m.ShortName
				}
				exchange := m.FullExchangeName
				if exchange == "" {
					exchange = m.ExchangeName
				}
				d := EquityQuoteData{
					EquityQuoteData: sm.EquityQuoteData{
						Symbol:    m.Symbol,
						Name:      nonEmpty(name),
						Exchange:  nonEmpty(exchange),
						LastPrice: m.RegularMarketPrice,
						High:      m.RegularMarketDayHigh,
						Low:       m.RegularMarketDayLow,
						PrevClose: prev,
						Volume:    m.RegularMarketVolume,
					},
					Currency:   nonEmpty(m.Currency),
					YearHigh:   m.FiftyTwoWeekHigh,
					YearLow:    m.FiftyTwoWeekLow,
					MarketOpen: c.scheduler.IsOpen(m.Symbol),
				}
				if m.RegularMarketPrice != nil && prev != nil && *prev != 0 {
					d.Change = ptr(*m.RegularMarketPrice - *prev)
					d.ChangePercent = ptr(*d.Change / *prev)
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

// CryptoSymbol turns BTCUSD or BTC/USD into Yahoo's BTC-USD.
func CryptoSymbol(symbol string) string {
	s := strings.ToUpper(strings.NewReplacer("/", "-", "_", "-").Replace(symbol))
	if strings.Contains(s, "-") {
		return s
	}
	for _, quote := range []string{"USDT", "USDC", "USD", "EUR", "GBP", "BTC", "ETH"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return fmt.Sprintf("%s-%s", strings.TrimSuffix(s, quote), quote)
		}
	}
	return s
}

// CurrencySymbol turns EURUSD or EUR/USD into Yahoo's EURUSD=X.
func CurrencySymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.HasSuffix(s, "=X") {
		return s
	}
	return strings.NewReplacer("/", "", "-", "", "_", "").Replace(s) + "=X"
}

func splitSymbols(list string) []string {
	var out []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func positive(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}
