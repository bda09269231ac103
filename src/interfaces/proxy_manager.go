package interfaces

// -----------------------------------------------------------------------------
// IProxyManager hands out the proxy and User-Agent used for provider requests.
// -----------------------------------------------------------------------------

type IProxyManager interface {

	// GetCurrentProxy returns the proxy URL in use, or "" when there is none.
	GetCurrentProxy() (string, error)

	// RotateProxy gives up on the current proxy after a failed attempt.
	RotateProxy()

	HasProxies() bool

	GetUserAgent() string
}
