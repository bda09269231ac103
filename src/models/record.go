package models

import (
	"encoding/json"
	"time"
)

// MRecord is one row of a websocket sink: a monotonic id plus the raw JSON
// message, with the indexed keys extracted.
type MRecord struct {
	ID       int64           `json:"id"`
	Message  json.RawMessage `json:"message"`
	Symbol   string          `json:"symbol,omitempty"`
	Date     string          `json:"date,omitempty"`
	Received time.Time       `json:"-"`
}

// MRecordFilter narrows a sink read.
type MRecordFilter struct {
	Symbol  string
	AfterID int64
	Limit   int
}
