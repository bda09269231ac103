package models

import "time"

// MCommandEvent is the single structured record emitted per command call.
type MCommandEvent struct {
	Route         string            `json:"route"`
	Provider      string            `json:"provider,omitempty"`
	Kwargs        map[string]string `json:"kwargs"`
	ErrorClass    string            `json:"error_class,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
	SessionID     string            `json:"session_id"`
	CorrelationID string            `json:"correlation_id"`
	Duration      time.Duration     `json:"duration"`
	Timestamp     time.Time         `json:"timestamp"`
}
