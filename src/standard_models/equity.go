package standard_models

import (
	"time"

	"cloud.google.com/go/civil"
)

// EquityHistoricalQueryParams selects a daily or intraday price series.
type EquityHistoricalQueryParams struct {
	Symbol    string      `json:"symbol" validate:"required" normalize:"upper" description:"Symbol to get data for."`
	StartDate *civil.Date `json:"start_date,omitempty" description:"Start date of the data, in YYYY-MM-DD format."`
	EndDate   *civil.Date `json:"end_date,omitempty" description:"End date of the data, in YYYY-MM-DD format."`
}

func (EquityHistoricalQueryParams) Docstring() string {
	return "Equity Historical Price Query."
}

// EquityHistoricalData is one bar of an equity price series.
type EquityHistoricalData struct {
	Date   time.Time `json:"date" validate:"required" description:"The date of the data."`
	Open   float64   `json:"open" description:"The open price."`
	High   float64   `json:"high" description:"The high price."`
	Low    float64   `json:"low" description:"The low price."`
	Close  float64   `json:"close" description:"The close price."`
	Volume *float64  `json:"volume,omitempty" normalize:"zero_nil" description:"The trading volume."`
	VWAP   *float64  `json:"vwap,omitempty" normalize:"zero_nil" description:"Volume Weighted Average Price over the period."`
}

func (EquityHistoricalData) Docstring() string {
	return "Equity Historical Price Data."
}

// -----------------------------------------------------------------------------

// EquityQuoteQueryParams requests the latest quote for one or more symbols.
type EquityQuoteQueryParams struct {
	Symbol string `json:"symbol" validate:"required" normalize:"upper" description:"Symbol to get data for. Multiple comma separated items allowed."`
}

func (EquityQuoteQueryParams) Docstring() string {
	return "Equity Quote Query."
}

// EquityQuoteData is the latest quote of one symbol.
type EquityQuoteData struct {
	Symbol        string   `json:"symbol" validate:"required" normalize:"upper" description:"Symbol representing the entity requested in the data."`
	Name          *string  `json:"name,omitempty" description:"Name of the company."`
	Exchange      *string  `json:"exchange,omitempty" description:"The name or symbol of the venue where the data is from."`
	LastPrice     *float64 `json:"last_price,omitempty" normalize:"zero_nil" description:"Price of the last trade."`
	Open          *float64 `json:"open,omitempty" normalize:"zero_nil" description:"The open price."`
	High          *float64 `json:"high,omitempty" normalize:"zero_nil" description:"The high price."`
	Low           *float64 `json:"low,omitempty" normalize:"zero_nil" description:"The low price."`
	PrevClose     *float64 `json:"prev_close,omitempty" normalize:"zero_nil" description:"The previous close price."`
	Volume        *float64 `json:"volume,omitempty" normalize:"zero_nil" description:"The trading volume."`
	Bid           *float64 `json:"bid,omitempty" normalize:"zero_nil" description:"Price of the top bid order."`
	Ask           *float64 `json:"ask,omitempty" normalize:"zero_nil" description:"Price of the top ask order."`
	Change        *float64 `json:"change,omitempty" description:"Change in price from previous close."`
	ChangePercent *float64 `json:"change_percent,omitempty" x-unit_measurement:"percent" x-frontend_multiply:"100" description:"Change in price as a normalized percentage."`
}

func (EquityQuoteData) Docstring() string {
	return "Equity Quote Data."
}
