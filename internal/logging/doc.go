// Package logging builds the slog loggers used across tomoprep.
//
// It provides console and JSON handlers, attr helper aliases, and component
// loggers that tag every record with the emitting subsystem.
package logging
