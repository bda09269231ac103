package standard_models

import (
	"time"

	"cloud.google.com/go/civil"
)

// CryptoHistoricalQueryParams selects a price series for a crypto pair.
type CryptoHistoricalQueryParams struct {
	Symbol    string      `json:"symbol" validate:"required" normalize:"upper" description:"Symbol to get data for. Can use CURR1-CURR2 or CURR1CURR2 format."`
	StartDate *civil.Date `json:"start_date,omitempty" description:"Start date of the data, in YYYY-MM-DD format."`
	EndDate   *civil.Date `json:"end_date,omitempty" description:"End date of the data, in YYYY-MM-DD format."`
}

func (CryptoHistoricalQueryParams) Docstring() string {
	return "Crypto Historical Price Query."
}

// CryptoHistoricalData is one bar of a crypto price series.
type CryptoHistoricalData struct {
	Date   time.Time `json:"date" validate:"required" description:"The date of the data."`
	Open   float64   `json:"open" description:"The open price."`
	High   float64   `json:"high" description:"The high price."`
	Low    float64   `json:"low" description:"The low price."`
	Close  float64   `json:"close" description:"The close price."`
	Volume *float64  `json:"volume,omitempty" description:"The trading volume."`
	VWAP   *float64  `json:"vwap,omitempty" normalize:"zero_nil" description:"Volume Weighted Average Price over the period."`
}

func (CryptoHistoricalData) Docstring() string {
	return "Crypto Historical Price Data."
}

// -----------------------------------------------------------------------------

// CurrencyHistoricalQueryParams selects a price series for a currency pair.
type CurrencyHistoricalQueryParams struct {
	Symbol    string      `json:"symbol" validate:"required" normalize:"upper" description:"Symbol to get data for. Can use CURR1-CURR2 or CURR1CURR2 format."`
	StartDate *civil.Date `json:"start_date,omitempty" description:"Start date of the data, in YYYY-MM-DD format."`
	EndDate   *civil.Date `json:"end_date,omitempty" description:"End date of the data, in YYYY-MM-DD format."`
}

func (CurrencyHistoricalQueryParams) Docstring() string {
	return "Currency Historical Price Query."
}

// CurrencyHistoricalData is one bar of a currency price series.
type CurrencyHistoricalData struct {
	Date   time.Time `json:"date" validate:"required" description:"The date of the data."`
	Open   float64   `json:"open" description:"The open price."`
	High   float64   `json:"high" description:"The high price."`
	Low    float64   `json:"low" description:"The low price."`
	Close  float64   `json:"close" description:"The close price."`
	Volume *float64  `json:"volume,omitempty" normalize:"zero_nil" description:"The trading volume."`
	VWAP   *float64  `json:"vwap,omitempty" normalize:"zero_nil" description:"Volume Weighted Average Price over the period."`
}

func (CurrencyHistoricalData) Docstring() string {
	return "Currency Historical Price Data."
}
