package standard_models

import "time"

// WebSocketConnectionQueryParams opens a supervised feed.
type WebSocketConnectionQueryParams struct {
	Symbol string `json:"symbol" validate:"required" normalize:"upper" description:"Symbol to get data for. Multiple comma separated items allowed."`
	Name   string `json:"name" validate:"required" description:"Name of the feed. Used for the sink and for later subscribe/unsubscribe calls."`
	Limit  int    `json:"limit" default:"300" validate:"gte=0" description:"Maximum number of recent rows returned with the connection."`
}

func (WebSocketConnectionQueryParams) Docstring() string {
	return "WebSocket Connection Query."
}

// WebSocketConnectionData is the handle returned for a running feed. Client
// is the in-process handle; it never reaches JSON.
type WebSocketConnectionData struct {
	Name    string   `json:"name" validate:"required" description:"Name of the feed."`
	State   string   `json:"state" description:"Connection state."`
	Symbols []string `json:"symbols" description:"Currently subscribed symbols."`
	Client  any      `json:"-"`
}

func (WebSocketConnectionData) Docstring() string {
	return "WebSocket Connection Data."
}

// -----------------------------------------------------------------------------

// WebSocketData is the row shape of one feed message. Provider rows embed it.
type WebSocketData struct {
	Date   time.Time `json:"date" validate:"required" description:"The date of the data."`
	Symbol string    `json:"symbol" validate:"required" normalize:"upper" description:"Symbol representing the entity requested in the data."`
}
