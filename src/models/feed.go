package models

// MFeedCommand is one JSON line sent from the parent to a feed worker.
type MFeedCommand struct {
	Symbol string `json:"symbol"`
	Event  string `json:"event"`
}

// MFeedEvent is one JSON line emitted by a feed worker on stdout.
type MFeedEvent struct {
	Level   string   `json:"level"`
	Message string   `json:"message"`
	Event   string   `json:"event,omitempty"`
	State   string   `json:"state,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
	Error   string   `json:"error,omitempty"`
	Kind    string   `json:"kind,omitempty"`
	Rows    int      `json:"rows,omitempty"`
}

// MFeedSpec is everything a feed worker needs to run one connection.
type MFeedSpec struct {
	Name        string           `json:"name"`
	Provider    string           `json:"provider"`
	URL         string           `json:"url"`
	Symbols     []string         `json:"symbols"`
	Credentials []string         `json:"credentials,omitempty"`
	Schema      map[string]any   `json:"schema,omitempty"`
	Sink        MWebsocketConfig `json:"sink"`
}

// MFeedStatus summarises a supervised feed for the HTTP and gRPC surfaces.
type MFeedStatus struct {
	Name     string   `json:"name"`
	Provider string   `json:"provider"`
	State    string   `json:"state"`
	Symbols  []string `json:"symbols"`
	Restarts int      `json:"restarts"`
	Error    string   `json:"error,omitempty"`
}

// MTailCommand is sent by a tail client to narrow the symbols it receives.
type MTailCommand struct {
	Command string   `json:"command"`
	Symbols []string `json:"symbols"`
}

// MTailMessage is pushed to tail clients. Type is INITIAL for the snapshot
// sent on connect and UPDATE afterwards.
type MTailMessage struct {
	Type    string    `json:"type"`
	Feed    string    `json:"feed"`
	Records []MRecord `json:"records"`
}
