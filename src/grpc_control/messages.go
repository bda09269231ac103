package grpc_control

import (
	"encoding/json"

	"market-platform/src/models"
)

type Empty struct{}

type ProviderInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Website     string   `json:"website,omitempty"`
	Credentials []string `json:"credentials"`
	Models      []string `json:"models"`
}

type ListProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
}

type CommandInfo struct {
	Path      string   `json:"path"`
	Methods   []string `json:"methods"`
	Model     string   `json:"model,omitempty"`
	Providers []string `json:"providers,omitempty"`
	Params    []string `json:"params"`
}

type ListCommandsResponse struct {
	Commands []CommandInfo `json:"commands"`
}

// ExecuteRequest runs the command at Path. Headers carries the custom
// request headers the command declares.
type ExecuteRequest struct {
	Path    string            `json:"path"`
	Params  map[string]any    `json:"params,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ExecuteResponse carries the OBBject exactly as the HTTP surface renders it.
type ExecuteResponse struct {
	OBBject json.RawMessage `json:"obbject"`
}

type ListFeedsResponse struct {
	Feeds []models.MFeedStatus `json:"feeds"`
}

type FeedRequest struct {
	Name    string   `json:"name"`
	Symbols []string `json:"symbols"`
}

type FeedResponse struct {
	Feed models.MFeedStatus `json:"feed"`
}
