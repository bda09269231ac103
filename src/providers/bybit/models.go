package bybit

import (
	sm "market-platform/src/standard_models"
)

type CryptoHistoricalQueryParams struct {
	sm.CryptoHistoricalQueryParams
	Interval string `json:"interval" default:"1d" choices:"1m,3m,5m,15m,30m,1h,2h,4h,6h,12h,1d,1w,1mo" description:"Time interval of the data to return."`
	Category string `json:"category" default:"spot" choices:"spot,linear,inverse" description:"Market the pair trades on."`
}

func (CryptoHistoricalQueryParams) JSONSchemaExtra() map[string]map[string]any {
	return map[string]map[string]any{
		"category": {"choices": []string{"spot", "linear", "inverse"}},
	}
}

type CryptoHistoricalData struct {
	sm.CryptoHistoricalData
	Turnover *float64 `json:"turnover,omitempty" normalize:"zero_nil" description:"Traded value in the quote asset."`
}

func (CryptoHistoricalData) Aliases() map[string]string {
	return map[string]string{"date": "start"}
}
