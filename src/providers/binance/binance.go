package binance

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"market-platform/src/fetcher"
	"market-platform/src/helpers"
	"market-platform/src/logger"
	"market-platform/src/provider"
	sm "market-platform/src/standard_models"
	"market-platform/src/websocket"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"
)

const (
	Name      = "binance"
	BaseURL   = "https://api.binance.com"
	StreamURL = "wss://stream.binance.com:9443/ws"

	// klineLimit is the largest page /api/v3/klines serves.
	klineLimit = 1000
)

// Extension is the manifest entry of the Binance provider.
var Extension = provider.Extension{
	Name: Name,
	Load: func() (*provider.Provider, error) {
		return New(Options{}), nil
	},
}

// Options point the provider at non-default hosts.
type Options struct {
	BaseURL    string
	StreamURL  string
	HTTPClient *http.Client
	// Feeds returns the manager live feeds are started on. Defaults to
	// websocket.DefaultManager.
	Feeds func() *websocket.FeedManager
	// RequestsPerSecond paces kline pages. Defaults to 10.
	RequestsPerSecond float64
}

type client struct {
	api       *gobinance.Client
	streamURL string
	feeds     func() *websocket.FeedManager
	limiter   *rate.Limiter
	logger    *logger.Logger
}

// -----------------------------------------------------------------------------

// New builds the provider. Market data endpoints are public, so no
// credentials are declared.
func New(opts Options) *provider.Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	if opts.StreamURL == "" {
		opts.StreamURL = StreamURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Feeds == nil {
		opts.Feeds = websocket.DefaultManager
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}

	api := gobinance.NewClient("", "")
	api.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	api.HTTPClient = opts.HTTPClient

	c := &client{
		api:       api,
		streamURL: opts.StreamURL,
		feeds:     opts.Feeds,
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		logger:    logger.NewLogger(nil, "Binance"),
	}
	return &provider.Provider{
		Name:        Name,
		Description: "Binance spot market data: klines and the public trade stream.",
		Website:     "https://www.binance.com",
		FetcherDict: map[string]fetcher.Fetcher{
			sm.CryptoHistorical:    fetcher.MustNew(c.cryptoHistorical()),
			sm.WebSocketConnection: fetcher.MustNew(c.webSocketConnection()),
		},
	}
}

// -----------------------------------------------------------------------------

func (c *client) cryptoHistorical() fetcher.Definition[CryptoHistoricalQueryParams, []*gobinance.Kline, []CryptoHistoricalData] {
	return fetcher.Definition[CryptoHistoricalQueryParams, []*gobinance.Kline, []CryptoHistoricalData]{
		ExtractData: func(ctx context.Context, q *CryptoHistoricalQueryParams, _ fetcher.Credentials) ([]*gobinance.Kline, error) {
			start := q.StartDate.In(time.UTC)
			end := q.EndDate.AddDays(1).In(time.UTC).Add(-time.Millisecond)
			return c.klines(ctx, Symbol(q.Symbol), binanceInterval(q.Interval), start, end)
		},
		TransformData: func(q *CryptoHistoricalQueryParams, raw []*gobinance.Kline) ([]CryptoHistoricalData, error) {
			if len(raw) == 0 {
				return nil, helpers.NewEmptyDataError("nothing to transform for %s", q.Symbol)
			}
			out := make([]CryptoHistoricalData, 0, len(raw))
			for _, k := range raw {
				var p parser
				d := CryptoHistoricalData{
					CryptoHistoricalData: sm.CryptoHistoricalData{
						Date:   time.UnixMilli(k.OpenTime).UTC(),
						Open:   p.float(k.Open),
						High:   p.float(k.High),
						Low:    p.float(k.Low),
						Close:  p.float(k.Close),
						Volume: p.ptr(k.Volume),
					},
					QuoteVolume:         p.ptr(k.QuoteAssetVolume),
					TakerBuyBaseVolume:  p.ptr(k.TakerBuyBaseAssetVolume),
					TakerBuyQuoteVolume: p.ptr(k.TakerBuyQuoteAssetVolume),
				}
				if p.err != nil {
					return nil, helpers.NewProviderError(Name, 0, p.err, "malformed kline at %d", k.OpenTime)
				}
				if k.TradeNum > 0 {
					n := k.TradeNum
					d.Trades = &n
				}
				if err := sm.Normalize(&d); err != nil {
					return nil, err
				}
				out = append(out, d)
			}
			return out, nil
		},
	}
}

// -----------------------------------------------------------------------------

// klines pages through /api/v3/klines from start to end, oldest first.
func (c *client) klines(ctx context.Context, symbol, interval string, start, end time.Time) ([]*gobinance.Kline, error) {
	var out []*gobinance.Kline
	from, until := start.UnixMilli(), end.UnixMilli()
	for from <= until {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := c.api.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from).
			EndTime(until).
			Limit(klineLimit).
			Do(ctx)
		if err != nil {
			return nil, c.mapError(ctx, symbol, err)
		}
		out = append(out, page...)
		if len(page) < klineLimit {
			break
		}
		from = page[len(page)-1].OpenTime + 1
	}
	c.logger.Debug("Fetched %d klines for %s (%s)", len(out), symbol, interval)
	if len(out) == 0 {
		return nil, helpers.NewEmptyDataError("no klines returned for %s", symbol)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// mapError sorts go-binance errors into the platform taxonomy.
func (c *client) mapError(ctx context.Context, symbol string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return helpers.NewProviderError(Name, 0, err, "klines request for %s failed", symbol)
	}
	switch apiErr.Code {
	case -1003, -1015:
		return helpers.NewRateLimitError(0, "%s: %s", Name, apiErr.Message)
	case -2008, -2014, -2015:
		return helpers.NewUnauthorizedError("%s: %s", Name, apiErr.Message)
	case -1121:
		return helpers.NewValidationError("symbol", "%s: invalid symbol %s", Name, symbol)
	}
	return helpers.NewProviderError(Name, 0, apiErr, "%s (code %d)", apiErr.Message, apiErr.Code)
}

// -----------------------------------------------------------------------------

// Symbol turns BTC-USDT or btc/usdt into Binance's BTCUSDT.
func Symbol(s string) string {
	return strings.ToUpper(strings.NewReplacer("-", "", "/", "", "_", "").Replace(strings.TrimSpace(s)))
}

func binanceInterval(interval string) string {
	switch interval {
	case "", "1d":
		return "1d"
	case "1mo":
		return "1M"
	}
	return interval
}

// parser keeps the first float conversion error of a row.
type parser struct{ err error }

func (p *parser) float(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *parser) ptr(s string) *float64 {
	if s == "" {
		return nil
	}
	v := p.float(s)
	return &v
}
