// Package logging constructs the slog loggers used across usher and defines
// the standardized attribute keys shared by every component.
package logging
