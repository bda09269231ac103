package fmp

import (
	sm "market-platform/src/standard_models"
)

// EquityHistoricalQueryParams selects daily bars or an intraday chart.
type EquityHistoricalQueryParams struct {
	sm.EquityHistoricalQueryParams
	Interval string `json:"interval" default:"1d" choices:"1m,5m,15m,30m,1h,4h,1d" description:"Time interval of the data to return."`
}

func (EquityHistoricalQueryParams) JSONSchemaExtra() map[string]map[string]any {
	return map[string]map[string]any{
		"interval": {"choices": []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d"}},
	}
}

type EquityHistoricalData struct {
	sm.EquityHistoricalData
	AdjClose         *float64 `json:"adj_close,omitempty" description:"Close price adjusted for splits and dividends."`
	UnadjustedVolume *float64 `json:"unadjusted_volume,omitempty" normalize:"zero_nil" description:"Volume not adjusted for splits."`
	Change           *float64 `json:"change,omitempty" description:"Change in price from the open."`
	ChangePercent    *float64 `json:"change_percent,omitempty" x-unit_measurement:"percent" x-frontend_multiply:"100" description:"Change in price as a normalized percentage."`
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
	MarketCap *float64 `json:"market_cap,omitempty" normalize:"zero_nil" description:"Market capitalization."`
	AvgVolume *float64 `json:"avg_volume,omitempty" normalize:"zero_nil" description:"Average daily trading volume."`
	YearHigh  *float64 `json:"year_high,omitempty" description:"52-week high."`
	YearLow   *float64 `json:"year_low,omitempty" description:"52-week low."`
}

// -----------------------------------------------------------------------------

type CryptoHistoricalQueryParams struct {
	sm.CryptoHistoricalQueryParams
}

type CryptoHistoricalData struct {
	sm.CryptoHistoricalData
	AdjClose *float64 `json:"adj_close,omitempty" description:"Adjusted close price."`
}
