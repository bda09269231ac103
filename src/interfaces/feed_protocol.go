package interfaces

// -----------------------------------------------------------------------------
// IFeedProtocol adapts one provider's websocket framing.
// -----------------------------------------------------------------------------

type IFeedProtocol interface {

	// -----------------------------------------------------------------------------

	// URL returns the socket address for the given symbols.
	URL(base string, symbols []string) string

	// -----------------------------------------------------------------------------

	// AuthMessage returns the frame sent right after connect, or nil when the
	// feed needs no login.
	AuthMessage(credentials map[string]string) ([]byte, error)

	// -----------------------------------------------------------------------------

	// SubscribeMessage and UnsubscribeMessage build the control frames.
	SubscribeMessage(symbols []string) ([]byte, error)
	UnsubscribeMessage(symbols []string) ([]byte, error)

	// -----------------------------------------------------------------------------

	// ParseFrame turns one inbound frame into zero or more row payloads.
	// Control frames return no rows. An UnauthorizedError ends the feed.
	ParseFrame(frame []byte) ([][]byte, error)
}
