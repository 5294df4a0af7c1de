// Package logging builds the slog loggers used across tapedeck. It offers a
// human console handler for interactive use and a JSON handler for log files,
// plus the shared field names that keep events correlatable per session.
package logging
