package logger

import (
	"market-platform/src/models"

	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------

// CommandEventHook writes one structured entry per command invocation.
type CommandEventHook struct {
	name string
}

// -----------------------------------------------------------------------------

func NewCommandEventHook(name string) *CommandEventHook {
	if name == "" {
		name = "CommandRunner"
	}
	return &CommandEventHook{name: name}
}

// -----------------------------------------------------------------------------

// LogCommand emits the event at info level, or error level when the call failed.
func (h *CommandEventHook) LogCommand(event models.MCommandEvent) {
	fields := logrus.Fields{
		"component":      h.name,
		"route":          event.Route,
		"kwargs":         event.Kwargs,
		"session_id":     event.SessionID,
		"correlation_id": event.CorrelationID,
		"duration_ms":    event.Duration.Milliseconds(),
	}
	if event.Provider != "" {
		fields["provider"] = event.Provider
	}
	if len(event.CustomHeaders) > 0 {
		fields["custom_headers"] = event.CustomHeaders
	}

	entry := backend().WithFields(fields)
	if !event.Timestamp.IsZero() {
		entry = entry.WithTime(event.Timestamp)
	}
	if event.ErrorClass != "" {
		entry.WithField("error_class", event.ErrorClass).Error(event.ErrorMessage)
		return
	}
	entry.Info("command executed")
}
