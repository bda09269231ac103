package yfinance

import (
	"strings"

	sm "market-platform/src/standard_models"
)

const intervalChoices = "1m,2m,5m,15m,30m,60m,90m,1h,1d,5d,1W,1mo,3mo"

func splitChoices() []string { return strings.Split(intervalChoices, ",") }

// EquityHistoricalQueryParams adds the chart interval and extended hours.
type EquityHistoricalQueryParams struct {
	sm.EquityHistoricalQueryParams
	Interval       string `json:"interval" default:"1d" choices:"1m,2m,5m,15m,30m,60m,90m,1h,1d,5d,1W,1mo,3mo" description:"Time interval of the data to return."`
	IncludePrePost bool   `json:"include_prepost" default:"false" description:"Include pre and post market data."`
}

func (EquityHistoricalQueryParams) JSONSchemaExtra() map[string]map[string]any {
	return map[string]map[string]any{
		"interval": {"choices": splitChoices()},
	}
}

// EquityHistoricalData carries the adjusted close and corporate actions.
type EquityHistoricalData struct {
	sm.EquityHistoricalData
	AdjClose   *float64 `json:"adj_close,omitempty" description:"Close price adjusted for splits and dividends."`
	Dividend   *float64 `json:"dividend,omitempty" x-unit_measurement:"currency" description:"Dividend paid on the date."`
	SplitRatio *float64 `json:"split_ratio,omitempty" description:"Split ratio effective on the date."`
}

// -----------------------------------------------------------------------------

type EquityQuoteQueryParams struct {
	sm.EquityQuoteQueryParams
}

func (EquityQuoteQueryParams) JSONSchemaExtra() map[string]map[string]any {
	return map[string]map[string]any{"symbol": {"multiple_items_allowed": true}}
}

type EquityQuoteData struct {
	sm.EquityQuoteData
	Currency   *string  `json:"currency,omitempty" description:"Currency of the price."`
	YearHigh   *float64 `json:"year_high,omitempty" description:"52-week high."`
	YearLow    *float64 `json:"year_low,omitempty" description:"52-week low."`
	MarketOpen bool     `json:"market_open" description:"Whether the exchange is in its regular session."`
}

// -----------------------------------------------------------------------------

type CryptoHistoricalQueryParams struct {
	sm.CryptoHistoricalQueryParams
	Interval string `json:"interval" default:"1d" choices:"1m,2m,5m,15m,30m,60m,90m,1h,1d,5d,1W,1mo,3mo" description:"Time interval of the data to return."`
}

func (CryptoHistoricalQueryParams) JSONSchemaExtra() map[string]map[string]any {
	return map[string]map[string]any{
		"interval": {"choices": splitChoices()},
	}
}

type CryptoHistoricalData struct {
	sm.CryptoHistoricalData
}

// -----------------------------------------------------------------------------

type CurrencyHistoricalQueryParams struct {
	sm.CurrencyHistoricalQueryParams
	Interval string `json:"interval" default:"1d" choices:"1m,2m,5m,15m,30m,60m,90m,1h,1d,5d,1W,1mo,3mo" description:"Time interval of the data to return."`
}

type CurrencyHistoricalData struct {
	sm.CurrencyHistoricalData
}
