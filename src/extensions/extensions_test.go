package extensions_test

import (
	"testing"

	"market-platform/src/extensions"
	"market-platform/src/provider"
	sm "market-platform/src/standard_models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestBuildsRegistryMap(t *testing.T) {
	t.Parallel()
	reg, err := provider.NewRegistryLoader().FromExtensions(extensions.Manifest())
	require.NoError(t, err)
	assert.Equal(t, []string{"binance", "bybit", "fmp", "yfinance"}, reg.Names())

	rm, err := provider.NewRegistryMap(reg, sm.Builtins())
	require.NoError(t, err)
	assert.Equal(t, []string{"binance", "bybit", "fmp", "yfinance"}, rm.ProvidersFor(sm.CryptoHistorical))
	assert.Equal(t, []string{"fmp", "yfinance"}, rm.ProvidersFor(sm.EquityQuote))
	assert.Equal(t, []string{"binance"}, rm.ProvidersFor(sm.WebSocketConnection))
	assert.Contains(t, rm.Credentials(), "fmp_api_key")
	assert.Equal(t, []string{"binance", "bybit", "yfinance"}, rm.ExtraFieldProviders(sm.CryptoHistorical, "interval"))
	assert.Equal(t, []string{"bybit"}, rm.ExtraFieldProviders(sm.CryptoHistorical, "category"))
}

func TestEveryFeedProviderHasAProtocol(t *testing.T) {
	t.Parallel()
	reg, err := provider.NewRegistryLoader().FromExtensions(extensions.Manifest())
	require.NoError(t, err)
	protocols := extensions.FeedProtocols()
	for name, p := range reg.Providers() {
		if _, ok := p.FetcherDict[sm.WebSocketConnection]; ok {
			assert.Contains(t, protocols, name)
		}
	}
}
