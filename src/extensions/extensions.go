// Package extensions is the manifest of the providers built into the binary.
package extensions

import (
	"market-platform/src/interfaces"
	"market-platform/src/provider"
	"market-platform/src/providers/binance"
	"market-platform/src/providers/bybit"
	"market-platform/src/providers/fmp"
	"market-platform/src/providers/yfinance"
)

// Manifest lists the built-in provider extensions in load order.
func Manifest() []provider.Extension {
	return []provider.Extension{
		yfinance.Extension,
		fmp.Extension,
		binance.Extension,
		bybit.Extension,
	}
}

// FeedProtocols maps a provider name to the framing its feed worker speaks.
func FeedProtocols() map[string]interfaces.IFeedProtocol {
	return map[string]interfaces.IFeedProtocol{
		binance.Name: binance.NewProtocol("trade"),
	}
}
