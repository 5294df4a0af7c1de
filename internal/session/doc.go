// Package session defines the core recording domain: identifiers, quality
// presets, output formats, the session state machine, on-disk path layout,
// and the error kinds shared across components.
package session
