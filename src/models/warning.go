package models

// MWarning is a non-fatal notice attached to a command result.
type MWarning struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}
