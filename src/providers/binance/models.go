package binance

import (
	"encoding/json"

	sm "market-platform/src/standard_models"
)

// klineIntervals are the bar sizes of /api/v3/klines. Month is spelled 1mo so
// it does not collide with 1m under case-insensitive matching.
var klineIntervals = []string{"1s", "1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d", "3d", "1w", "1mo"}

type CryptoHistoricalQueryParams struct {
	sm.CryptoHistoricalQueryParams
	Interval string `json:"interval" default:"1d" choices:"1s,1m,3m,5m,15m,30m,1h,2h,4h,6h,8h,12h,1d,3d,1w,1mo" description:"Time interval of the data to return."`
}

func (CryptoHistoricalQueryParams) JSONSchemaExtra() map[string]map[string]any {
	return map[string]map[string]any{"interval": {"choices": klineIntervals}}
}

type CryptoHistoricalData struct {
	sm.CryptoHistoricalData
	QuoteVolume         *float64 `json:"quote_volume,omitempty" normalize:"zero_nil" description:"Volume in the quote asset."`
	Trades              *int64   `json:"trades,omitempty" description:"Number of trades in the bar."`
	TakerBuyBaseVolume  *float64 `json:"taker_buy_base_volume,omitempty" description:"Base asset volume bought by takers."`
	TakerBuyQuoteVolume *float64 `json:"taker_buy_quote_volume,omitempty" description:"Quote asset volume bought by takers."`
}

func (CryptoHistoricalData) Aliases() map[string]string {
	return map[string]string{"date": "openTime"}
}

// -----------------------------------------------------------------------------

type WebSocketConnectionQueryParams struct {
	sm.WebSocketConnectionQueryParams
}

func (WebSocketConnectionQueryParams) JSONSchemaExtra() map[string]map[string]any {
	return map[string]map[string]any{"symbol": {"multiple_items_allowed": true}}
}

// WebSocketConnectionData adds the newest sink rows to the feed handle.
type WebSocketConnectionData struct {
	sm.WebSocketConnectionData
	Results []json.RawMessage `json:"results,omitempty" description:"Most recent rows of the feed, oldest first."`
}

// TradeData is the row written to the sink for every trade event.
type TradeData struct {
	sm.WebSocketData
	Price   float64 `json:"price" description:"Trade price."`
	Size    float64 `json:"size" description:"Trade quantity in the base asset."`
	Side    string  `json:"side,omitempty" choices:"buy,sell" description:"Aggressor side."`
	TradeID int64   `json:"trade_id,omitempty" description:"Exchange trade id."`
}
