package websocket

import (
	"encoding/json"
	"strings"

	"market-platform/src/helpers"

	"github.com/tidwall/gjson"
)

// JSONProtocol is a generic framing for feeds that speak plain JSON:
// {"op":"subscribe","symbols":[...]} control frames, {"event":...} replies,
// and data frames that are a row object or an array of rows.
type JSONProtocol struct {
	// Provider names the feed in errors.
	Provider string
	// CredentialName is sent as the auth key; empty disables login.
	CredentialName string
	// RowsPath selects the rows inside a data frame (gjson syntax).
	RowsPath string
}

// -----------------------------------------------------------------------------

func (p JSONProtocol) URL(base string, _ []string) string { return base }

// -----------------------------------------------------------------------------

func (p JSONProtocol) AuthMessage(creds map[string]string) ([]byte, error) {
	if p.CredentialName == "" {
		return nil, nil
	}
	key := creds[p.CredentialName]
	if key == "" {
		return nil, helpers.NewUnauthorizedError("missing credential '%s' for feed '%s'", p.CredentialName, p.Provider)
	}
	return json.Marshal(map[string]any{"op": "auth", "key": key})
}

// -----------------------------------------------------------------------------

func (p JSONProtocol) SubscribeMessage(symbols []string) ([]byte, error) {
	return json.Marshal(map[string]any{"op": EventSubscribe, "symbols": symbols})
}

func (p JSONProtocol) UnsubscribeMessage(symbols []string) ([]byte, error) {
	return json.Marshal(map[string]any{"op": EventUnsubscribe, "symbols": symbols})
}

// -----------------------------------------------------------------------------

func (p JSONProtocol) ParseFrame(frame []byte) ([][]byte, error) {
	if !gjson.ValidBytes(frame) {
		return nil, helpers.NewProviderError(p.Provider, 0, nil, "malformed frame")
	}

	if ev := gjson.GetBytes(frame, "event"); ev.Exists() {
		status := strings.ToLower(gjson.GetBytes(frame, "status").String())
		if ev.String() == "auth" && status != "ok" && status != "success" {
			msg := gjson.GetBytes(frame, "message").String()
			if msg == "" {
				msg = "authentication rejected"
			}
			return nil, helpers.NewUnauthorizedError("%s: %s", p.Provider, msg)
		}
		if ev.String() == "error" {
			return nil, helpers.NewProviderError(p.Provider, 0, nil, "%s", gjson.GetBytes(frame, "message").String())
		}
		return nil, nil
	}

	rows := gjson.ParseBytes(frame)
	if p.RowsPath != "" {
		rows = gjson.GetBytes(frame, p.RowsPath)
	}
	return RawRows(rows), nil
}

// -----------------------------------------------------------------------------

// RawRows returns the raw JSON of each object in r: the elements of an array,
// or r itself.
func RawRows(r gjson.Result) [][]byte {
	var out [][]byte
	switch {
	case r.IsArray():
		r.ForEach(func(_, v gjson.Result) bool {
			if v.IsObject() {
				out = append(out, []byte(v.Raw))
			}
			return true
		})
	case r.IsObject():
		out = append(out, []byte(r.Raw))
	}
	return out
}
