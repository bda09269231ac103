package network

import (
	"sync"

	"market-platform/src/interfaces"
	"market-platform/src/logger"
	"market-platform/src/models"
)

var (
	defaultMu sync.RWMutex
	defaultNM interfaces.INetworkManager
)

// -----------------------------------------------------------------------------

// SetDefault installs the manager handed to provider extensions at load time.
func SetDefault(nm interfaces.INetworkManager) {
	defaultMu.Lock()
	defaultNM = nm
	defaultMu.Unlock()
}

// -----------------------------------------------------------------------------

// Default returns the installed manager, building one with conservative
// settings when none was set.
func Default() interfaces.INetworkManager {
	defaultMu.RLock()
	nm := defaultNM
	defaultMu.RUnlock()
	if nm != nil {
		return nm
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultNM == nil {
		cfg := &models.MConfig{Network: models.MNetworkConfig{RequestTimeout: 30, MaxRetries: 2, ConcurrentRequests: 4}}
		defaultNM = NewAsyncNetworkManager(cfg, logger.NewLogger(cfg, "NetworkManager"))
	}
	return defaultNM
}
