package interfaces

//go:generate mockgen -destination=mocks/mock_network_manager.go -package=mocks -source=network_manager.go INetworkManager

import "context"

// -----------------------------------------------------------------------------
// INetworkManager defines the contract for HTTP requests with potential proxy/retry logic.
// -----------------------------------------------------------------------------

type INetworkManager interface {

	// -----------------------------------------------------------------------------

	// Get performs a GET request to the specified URL with parameters and extra headers.
	// Returns the response body, or a typed error for 401/403, 429 and other non-200 statuses.
	Get(ctx context.Context, url string, params map[string]string, headers map[string]string) ([]byte, error)
}
