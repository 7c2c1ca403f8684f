package logging

import "log/slog"

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldServer is the standardized structured logging key for media server names.
	FieldServer = "server"
	// FieldServerID is the standardized structured logging key for media server identifiers.
	FieldServerID = "server_id"
	// FieldSessionKey is the standardized structured logging key for playback session keys.
	FieldSessionKey = "session_key"
	// FieldJob is the standardized structured logging key for scheduled job identifiers.
	FieldJob = "job"
)

// Error wraps an error for structured logging, tolerating nil.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}
